package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/vaani/pkg/audio"
	"github.com/MrWong99/vaani/pkg/provider/stt"
)

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New("", ""); !errors.Is(err, stt.ErrEngineUnsupported) {
		t.Fatalf("err = %v, want ErrEngineUnsupported", err)
	}
}

func TestNew_DefaultModel(t *testing.T) {
	tr, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.model != DefaultModel {
		t.Errorf("model = %q, want %q", tr.model, DefaultModel)
	}
}

func TestBaseLanguage(t *testing.T) {
	cases := map[string]string{"en-US": "en", "hi-IN": "hi", "DE": "de", "": ""}
	for in, want := range cases {
		if got := baseLanguage(in); got != want {
			t.Errorf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranscribe(t *testing.T) {
	var gotLang, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLang = r.FormValue("language")
		gotModel = r.FormValue("model")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" explain this diagram "}`)
	}))
	defer srv.Close()

	tr, err := New("sk-test", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := tr.Transcribe(context.Background(), audio.EncodeWAV(make([]byte, 640), audio.CaptureFormat), "en-IN")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "explain this diagram" {
		t.Errorf("text = %q", text)
	}
	if gotLang != "en" || gotModel != "whisper-1" {
		t.Errorf("language=%q model=%q", gotLang, gotModel)
	}
}

func TestTranscribe_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, stt.ErrEngineUnsupported},
		{http.StatusServiceUnavailable, stt.ErrTransient},
		{http.StatusTooManyRequests, stt.ErrTransient},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"server_error"}}`)
			}))
			defer srv.Close()

			tr, _ := New("sk-test", "", WithBaseURL(srv.URL))
			_, err := tr.Transcribe(context.Background(), audio.EncodeWAV(make([]byte, 640), audio.CaptureFormat), "")
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestTranscribe_EmptyRecording(t *testing.T) {
	tr, _ := New("sk-test", "", WithBaseURL("http://127.0.0.1:1"))
	_, err := tr.Transcribe(context.Background(), audio.EncodeWAV(nil, audio.CaptureFormat), "")
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}
