package audio

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadyRecording is returned by [Recorder.Start] while a recording
	// is in progress.
	ErrAlreadyRecording = errors.New("audio: already recording")

	// ErrNotRecording is returned by [Recorder.Stop] when nothing is being
	// recorded.
	ErrNotRecording = errors.New("audio: not recording")
)

// Recording is a finished utterance.
type Recording struct {
	// PCM is S16LE audio in Format.
	PCM []byte

	Format Format

	// StartedAt is the time Start was called.
	StartedAt time.Time

	// Duration is the wall time between Start and Stop.
	Duration time.Duration
}

// WAV returns the recording as a WAV file.
func (r Recording) WAV() []byte {
	return EncodeWAV(r.PCM, r.Format)
}

// Recorder accumulates frames between Start and Stop, converting them to a
// fixed target format. Audio is only handed out on Stop; a partial utterance
// can be dropped with Discard.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	target   Format
	maxBytes int

	mu        sync.Mutex
	conv      FormatConverter
	active    bool
	startedAt time.Time
	buf       bytes.Buffer
}

// NewRecorder returns a recorder producing target-format audio. maxDuration
// caps the buffered audio; frames beyond the cap are dropped. A zero
// maxDuration means no cap.
func NewRecorder(target Format, maxDuration time.Duration) *Recorder {
	r := &Recorder{target: target}
	if maxDuration > 0 {
		r.maxBytes = int(int64(target.BytesPerSecond()) * int64(maxDuration) / int64(time.Second))
	}
	return r
}

// Start begins a recording at now, seeded with preroll (already in the
// target format).
func (r *Recorder) Start(now time.Time, preroll []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrAlreadyRecording
	}
	r.active = true
	r.startedAt = now
	r.buf.Reset()
	r.conv = FormatConverter{Target: r.target}
	r.append(preroll)
	return nil
}

// Write appends a frame. Frames written while idle are ignored.
func (r *Recorder) Write(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.append(r.conv.Convert(f).Data)
}

func (r *Recorder) append(pcm []byte) {
	if r.maxBytes > 0 {
		room := r.maxBytes - r.buf.Len()
		if room <= 0 {
			return
		}
		if len(pcm) > room {
			pcm = pcm[:room-room%bytesPerSample]
		}
	}
	r.buf.Write(pcm)
}

// Stop ends the recording at now and returns it.
func (r *Recorder) Stop(now time.Time) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return Recording{}, ErrNotRecording
	}
	r.active = false
	rec := Recording{
		PCM:       bytes.Clone(r.buf.Bytes()),
		Format:    r.target,
		StartedAt: r.startedAt,
		Duration:  now.Sub(r.startedAt),
	}
	r.buf.Reset()
	return rec, nil
}

// Discard drops an in-progress recording. It reports whether anything was
// being recorded.
func (r *Recorder) Discard() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.active
	r.active = false
	r.buf.Reset()
	return was
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
