package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/vaani/internal/app"
	"github.com/MrWong99/vaani/internal/capture"
	"github.com/MrWong99/vaani/internal/config"
	"github.com/MrWong99/vaani/internal/qa"
	qamock "github.com/MrWong99/vaani/internal/qa/mock"
	audiomock "github.com/MrWong99/vaani/pkg/audio/mock"
	sttmock "github.com/MrWong99/vaani/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/vaani/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/vaani/pkg/provider/vad/mock"
)

// testConfig returns a defaulted config with the given start mode.
func testConfig(mode string) *config.Config {
	cfg := &config.Config{
		Capture: config.CaptureConfig{Mode: mode},
		Providers: config.ProvidersConfig{
			STT:   config.ProviderEntry{Name: "mock"},
			TTS:   config.ProviderEntry{Name: "mock"},
			Audio: config.ProviderEntry{Name: "mock"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// testProviders returns mock providers with a working capture device.
func testProviders() *app.Providers {
	return &app.Providers{
		Recognizer: sttmock.NewRecognizer(),
		TTS:        &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("pcm")}},
		Audio: config.AudioBackend{
			Device: &audiomock.Device{},
			Player: &audiomock.Player{},
		},
	}
}

func testAsker() *qamock.Asker {
	return &qamock.Asker{Answer: qa.Answer{Text: "Chapter two covers it.", Page: 2, Snippet: "chapter two"}}
}

func TestNew_RequiresDevice(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig("off"), &app.Providers{}, app.WithAsker(testAsker()))
	if err == nil {
		t.Fatal("expected error without a capture device")
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig("off"), testProviders(), app.WithAsker(testAsker()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/healthz", wantStatus: http.StatusOK, wantBody: `"ok"`},
		{path: "/readyz", wantStatus: http.StatusOK},
		{path: "/v1/mode", wantStatus: http.StatusOK, wantBody: `"off"`},
		{path: "/v1/voices", wantStatus: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body)
			}
			if tc.wantBody != "" && !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body, tc.wantBody)
			}
		})
	}
}

func TestNew_ReadinessReportsProbe(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.Audio.Probe = func(context.Context) error { return errors.New("no microphone") }
	a, err := app.New(context.Background(), testConfig("off"), providers, app.WithAsker(testAsker()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for an optional check", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Errorf("body = %s, want degraded", rec.Body)
	}
}

func TestRun_AppliesStartModeAndServes(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	asker := testAsker()
	a, err := app.New(context.Background(), testConfig("wake"), testProviders(),
		app.WithAsker(asker),
		app.WithListener(ln),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Capture().Phase() != capture.PhaseWakeListening {
		if time.Now().After(deadline) {
			t.Fatalf("phase = %s, want wake listening", a.Capture().Phase())
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post("http://"+ln.Addr().String()+"/v1/ask", "application/json",
		strings.NewReader(`{"question":"where is chapter two?"}`))
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Answer struct {
			Text string `json:"text"`
		} `json:"answer"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body.Answer.Text != "Chapter two covers it." {
		t.Errorf("ask = %d %+v", resp.StatusCode, body)
	}
	if got := asker.Calls(); len(got) != 1 || got[0] != "where is chapter two?" {
		t.Errorf("questions = %q", got)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestRun_ListenFailure(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { busy.Close() })

	cfg := testConfig("off")
	cfg.Server.ListenAddr = busy.Addr().String()
	a, err := app.New(context.Background(), cfg, testProviders(), app.WithAsker(testAsker()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	errc := make(chan error, 1)
	go func() { errc <- a.Run(context.Background()) }()
	select {
	case err := <-errc:
		if err == nil {
			t.Error("Run returned nil for an unusable listen address")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not fail")
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	providers := testProviders()
	providers.VAD = &vadmock.Engine{}
	a, err := app.New(context.Background(), testConfig("off"), providers,
		app.WithAsker(testAsker()),
		app.WithLogLevel(&level),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = a.Shutdown(context.Background())
	})

	next := testConfig("off")
	next.Server.LogLevel = config.LogDebug
	next.VAD.StartThreshold = 0.3
	next.VAD.StopThreshold = 0.1
	next.Wake.Phrases = []string{"hello reader"}
	next.Playback.Voice.VoiceID = "nova"

	diff := config.Diff(testConfig("off"), next)
	if !diff.LogLevelChanged || !diff.VADChanged || !diff.WakeChanged || !diff.VoiceChanged {
		t.Fatalf("diff = %+v", diff)
	}

	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	a.Reload(rctx, next, diff)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if rctx.Err() != nil {
		t.Error("Reload blocked until its deadline")
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		a, err := app.New(context.Background(), testConfig("off"), testProviders(), app.WithAsker(testAsker()))
		if err != nil {
			t.Fatal(err)
		}
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("first Shutdown: %v", err)
		}
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("second Shutdown: %v", err)
		}
	})

	t.Run("expired context", func(t *testing.T) {
		t.Parallel()
		closed := false
		providers := testProviders()
		providers.Audio.Close = func() { closed = true }
		a, err := app.New(context.Background(), testConfig("off"), providers, app.WithAsker(testAsker()))
		if err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("Shutdown err = %v, want context.Canceled", err)
		}
		if closed {
			t.Error("audio closed after the deadline")
		}
	})
}
