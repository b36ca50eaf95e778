package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/vaani/pkg/audio"
	"github.com/MrWong99/vaani/pkg/provider/stt"
	"github.com/MrWong99/vaani/pkg/provider/tts"
	"github.com/MrWong99/vaani/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AudioBackend is a capture device plus a playback sink sharing one
// platform context.
type AudioBackend struct {
	Device audio.Device
	Player audio.Player

	// Probe reports whether a capture device is present. May be nil.
	Probe func(ctx context.Context) error

	// Close releases the platform. May be nil.
	Close func()
}

// AudioFactory builds an audio backend capturing in format.
type AudioFactory func(entry ProviderEntry, format audio.Format) (AudioBackend, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizer  map[string]func(ProviderEntry) (stt.Recognizer, error)
	transcriber map[string]func(ProviderEntry) (stt.Transcriber, error)
	tts         map[string]func(ProviderEntry) (tts.Provider, error)
	vad         map[string]func(ProviderEntry) (vad.Engine, error)
	audio       map[string]AudioFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizer:  make(map[string]func(ProviderEntry) (stt.Recognizer, error)),
		transcriber: make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		tts:         make(map[string]func(ProviderEntry) (tts.Provider, error)),
		vad:         make(map[string]func(ProviderEntry) (vad.Engine, error)),
		audio:       make(map[string]AudioFactory),
	}
}

// RegisterRecognizer registers a streaming recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (stt.Recognizer, error)) {
	register(r, r.recognizer, name, factory)
}

// RegisterTranscriber registers a batch transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	register(r, r.transcriber, name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	register(r, r.tts, name, factory)
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	register(r, r.vad, name, factory)
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	register(r, r.audio, name, factory)
}

// CreateRecognizer instantiates the recognizer registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Recognizer, error) {
	factory, err := lookup(r, r.recognizer, "stt", entry.Name)
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateTranscriber instantiates the transcriber registered under entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	factory, err := lookup(r, r.transcriber, "transcriber", entry.Name)
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	factory, err := lookup(r, r.tts, "tts", entry.Name)
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateVAD instantiates the VAD engine registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	factory, err := lookup(r, r.vad, "vad", entry.Name)
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateAudio instantiates the audio backend registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry, format audio.Format) (AudioBackend, error) {
	factory, err := lookup(r, r.audio, "audio", entry.Name)
	if err != nil {
		return AudioBackend{}, err
	}
	return factory(entry, format)
}

// Names lists the registered provider names of kind ("stt", "transcriber",
// "tts", "vad" or "audio"), sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "stt":
		names = keys(r.recognizer)
	case "transcriber":
		names = keys(r.transcriber)
	case "tts":
		names = keys(r.tts)
	case "vad":
		names = keys(r.vad)
	case "audio":
		names = keys(r.audio)
	}
	slices.Sort(names)
	return names
}

func register[F any](r *Registry, m map[string]F, name string, factory F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = factory
}

func lookup[F any](r *Registry, m map[string]F, kind, name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := m[name]
	if !ok {
		return factory, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, name)
	}
	return factory, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
