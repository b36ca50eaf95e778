package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/vaani/pkg/audio"
	"github.com/MrWong99/vaani/pkg/provider/tts"
)

type speechRequest struct {
	Input          string  `json:"input"`
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func newSpeechServer(t *testing.T, status int, pcm []byte) (*httptest.Server, func() []speechRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []speechRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.NotFound(w, r)
			return
		}
		var req speechRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pcm)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []speechRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]speechRequest(nil), reqs...)
	}
}

func TestNew(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty key")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q", p.model)
	}
	if p.Format() != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Errorf("Format() = %v", p.Format())
	}
}

func TestListVoices(t *testing.T) {
	p, _ := New("sk-test", "")
	vs, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(vs) != len(voices) || vs[0].ID != "alloy" || vs[0].Provider != "openai" {
		t.Errorf("voices = %+v", vs)
	}
}

func TestSynthesizeStream(t *testing.T) {
	srv, requests := newSpeechServer(t, http.StatusOK, make([]byte, 101))
	p, _ := New("sk-test", "", WithBaseURL(srv.URL))

	text := make(chan string, 2)
	text <- "The graph is on page two. "
	text <- "Look at the caption"
	close(text)

	pcm, err := p.SynthesizeStream(context.Background(), text, tts.VoiceProfile{ID: "nova", SpeedFactor: 1.25})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	total := 0
	for chunk := range pcm {
		if len(chunk)%2 != 0 {
			t.Fatalf("chunk of %d bytes is not sample aligned", len(chunk))
		}
		total += len(chunk)
	}
	if total != 200 {
		t.Errorf("total = %d, want 200 (odd trailing bytes dropped)", total)
	}

	reqs := requests()
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	if reqs[0].Input != "The graph is on page two." || reqs[1].Input != "Look at the caption" {
		t.Errorf("inputs = %q, %q", reqs[0].Input, reqs[1].Input)
	}
	for _, r := range reqs {
		if r.Voice != "nova" || r.ResponseFormat != "pcm" || r.Model != "tts-1" || r.Speed != 1.25 {
			t.Errorf("request = %+v", r)
		}
	}
}

func TestSynthesizeStream_DefaultVoice(t *testing.T) {
	srv, requests := newSpeechServer(t, http.StatusOK, make([]byte, 4))
	p, _ := New("sk-test", "", WithBaseURL(srv.URL))
	pcm, _ := p.SynthesizeStream(context.Background(), tts.Text("Hi."), tts.VoiceProfile{})
	audio.Drain(pcm)
	if reqs := requests(); len(reqs) != 1 || reqs[0].Voice != DefaultVoice || reqs[0].Speed != 0 {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestSynthesizeStream_ServerErrorStopsStream(t *testing.T) {
	srv, requests := newSpeechServer(t, http.StatusInternalServerError, nil)
	p, _ := New("sk-test", "", WithBaseURL(srv.URL))

	text := make(chan string, 2)
	text <- "One. "
	text <- "Two."
	close(text)
	pcm, err := p.SynthesizeStream(context.Background(), text, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	n := 0
	for chunk := range pcm {
		n += len(chunk)
	}
	if n != 0 {
		t.Errorf("got %d bytes of audio from a failing server", n)
	}
	if got := len(requests()); got != 1 {
		t.Errorf("requests = %d, want 1 (stop after first failure)", got)
	}
}
