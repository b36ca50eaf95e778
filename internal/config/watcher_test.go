package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vaani/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
wake:
  phrases: ["hey vaani"]
`

const watcherUpdatedYAML = `
server:
  log_level: debug
vad:
  silence: 1500ms
wake:
  phrases: ["hey vaani", "suno vaani"]
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime moves the file's modification time forward so that a rewrite
// within the filesystem's timestamp granularity is still noticed.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	calls []config.ConfigDiff
	fired chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{fired: make(chan struct{}, 8)}
}

func (r *changeRecorder) onChange(_, _ *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newWatcher(t *testing.T, content string, onChange func(old, new *config.Config, d config.ConfigDiff)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, watcherValidYAML, nil)
	if cfg := w.Current(); cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current() = %+v", cfg)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := newWatcher(t, watcherValidYAML, rec.onChange)

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path)

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	rec.mu.Lock()
	d := rec.calls[0]
	rec.mu.Unlock()
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.VADChanged || !d.WakeChanged || d.VoiceChanged {
		t.Errorf("diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("restart required = %v", d.RestartRequired)
	}

	cur := w.Current()
	if cur.Server.LogLevel != config.LogDebug || !slices.Contains(cur.Wake.Phrases, "suno vaani") {
		t.Errorf("Current() = %+v", cur)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := newWatcher(t, watcherValidYAML, rec.onChange)

	writeFile(t, path, watcherInvalidYAML)
	bumpMtime(t, path)
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback called %d times for invalid config", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level = %q", cur.Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	_, path := newWatcher(t, watcherValidYAML, rec.onChange)

	bumpMtime(t, path)
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback fired %d times for touch-only", n)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, watcherValidYAML, nil)
	w.Stop()
	w.Stop()
}

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		return &config.Config{
			Server:    config.ServerConfig{ListenAddr: ":8765", LogLevel: config.LogInfo},
			Wake:      config.WakeConfig{Phrases: []string{"hey vaani"}},
			Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "deepgram", Options: map[string]any{"endpointing": 300}}},
		}
	}

	tests := []struct {
		name        string
		mutate      func(c *config.Config)
		check       func(d config.ConfigDiff) bool
		wantRestart []string
	}{
		{
			name:   "identical",
			mutate: func(*config.Config) {},
			check:  func(d config.ConfigDiff) bool { return !d.Changed() },
		},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogWarn },
			check:  func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogWarn },
		},
		{
			name:   "vad",
			mutate: func(c *config.Config) { c.VAD.Silence = time.Second },
			check:  func(d config.ConfigDiff) bool { return d.VADChanged && !d.WakeChanged },
		},
		{
			name:   "wake phrases",
			mutate: func(c *config.Config) { c.Wake.Phrases = append(c.Wake.Phrases, "ok vaani") },
			check:  func(d config.ConfigDiff) bool { return d.WakeChanged },
		},
		{
			name:   "phonetic threshold",
			mutate: func(c *config.Config) { c.Wake.PhoneticThreshold = 0.8 },
			check:  func(d config.ConfigDiff) bool { return d.WakeChanged },
		},
		{
			name:   "voice",
			mutate: func(c *config.Config) { c.Playback.Voice.VoiceID = "nova" },
			check:  func(d config.ConfigDiff) bool { return d.VoiceChanged },
		},
		{
			name:        "listen address",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":9000" },
			check:       func(d config.ConfigDiff) bool { return d.Changed() },
			wantRestart: []string{"server"},
		},
		{
			name:        "provider option",
			mutate:      func(c *config.Config) { c.Providers.STT.Options["endpointing"] = 500 },
			check:       func(d config.ConfigDiff) bool { return d.Changed() },
			wantRestart: []string{"providers"},
		},
		{
			name:        "capture and qa",
			mutate:      func(c *config.Config) { c.Capture.Language = "hi-IN"; c.QA.BaseURL = "http://qa:5000" },
			check:       func(d config.ConfigDiff) bool { return d.Changed() },
			wantRestart: []string{"capture", "qa"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, updated := base(), base()
			tc.mutate(updated)
			d := config.Diff(old, updated)
			if !tc.check(d) {
				t.Errorf("Diff = %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}
