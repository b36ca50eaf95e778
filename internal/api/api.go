// Package api is the HTTP control plane used by the reader UI.
//
//	GET    /v1/mode           current listening mode and phase
//	PUT    /v1/mode           switch mode: {"mode": "wake", "language": "en-US"}
//	PUT    /v1/pages/{page}   register a rendered page's text fragments
//	DELETE /v1/pages/{page}   forget a page
//	POST   /v1/ask            typed question, answered like a spoken one
//	POST   /v1/locate         find a snippet in the registered pages
//	GET    /v1/voices         voices offered by the TTS provider
//	GET    /v1/events         websocket stream of assistant notices
//
// Errors are returned as {"error": "...", "retryable": bool}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/vaani/internal/anchor"
	"github.com/MrWong99/vaani/internal/assistant"
	"github.com/MrWong99/vaani/internal/capture"
	"github.com/MrWong99/vaani/internal/observe"
	"github.com/MrWong99/vaani/internal/qa"
	"github.com/MrWong99/vaani/pkg/audio"
	"github.com/MrWong99/vaani/pkg/provider/stt"
	"github.com/MrWong99/vaani/pkg/provider/tts"
)

const maxBodyBytes = 4 << 20

// Capture is the part of the capture orchestrator the API drives.
type Capture interface {
	Mode() capture.Mode
	Phase() capture.Phase
	Suspended() bool
	SetMode(ctx context.Context, m capture.Mode) error
}

// Assistant answers typed questions.
type Assistant interface {
	Ask(ctx context.Context, question string) (assistant.Result, error)
	SetCurrentPage(page int)
}

// Pages stores rendered page text.
type Pages interface {
	SetPage(page int, fragments []anchor.Fragment)
	RemovePage(page int)
}

// Locator finds snippets in stored pages.
type Locator interface {
	Locate(page int, snippet, query string, anchors ...string) (anchor.Match, error)
}

// Deps are the collaborators behind the endpoints. Voices may be nil.
type Deps struct {
	Capture   Capture
	Assistant Assistant
	Pages     Pages
	Locator   Locator
	Notices   *assistant.Broadcaster
	Voices    tts.Provider
	Metrics   *observe.Metrics
}

// Server serves the control plane.
type Server struct {
	deps Deps
}

// New returns a Server.
func New(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Server{deps: deps}
}

// Register adds the endpoints to mux. Plain HTTP routes are wrapped in the
// observability middleware; the websocket route is not, since the upgrade
// needs the raw connection.
func (s *Server) Register(mux *http.ServeMux) {
	mw := observe.Middleware(s.deps.Metrics)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, mw(h))
	}
	handle("GET /v1/mode", s.handleGetMode)
	handle("PUT /v1/mode", s.handlePutMode)
	handle("PUT /v1/pages/{page}", s.handlePutPage)
	handle("DELETE /v1/pages/{page}", s.handleDeletePage)
	handle("POST /v1/ask", s.handleAsk)
	handle("POST /v1/locate", s.handleLocate)
	handle("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
}

// Handler returns a mux serving only the control plane.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type modeBody struct {
	Mode      string `json:"mode"`
	Language  string `json:"language,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Suspended bool   `json:"suspended,omitempty"`
}

func (s *Server) modeState() modeBody {
	m := s.deps.Capture.Mode()
	return modeBody{
		Mode:      m.Kind().String(),
		Language:  m.Lang(),
		Phase:     s.deps.Capture.Phase().String(),
		Suspended: s.deps.Capture.Suspended(),
	}
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.modeState())
}

func (s *Server) handlePutMode(w http.ResponseWriter, r *http.Request) {
	var req modeBody
	if !decode(w, r, &req) {
		return
	}
	m, err := capture.ParseMode(strings.ToLower(strings.TrimSpace(req.Mode)), strings.TrimSpace(req.Language))
	if err != nil {
		writeError(w, http.StatusBadRequest, err, false)
		return
	}
	if err := s.deps.Capture.SetMode(r.Context(), m); err != nil {
		observe.Logger(r.Context()).Warn("api: set mode failed", "mode", m, "err", err)
		status, retryable := modeErrorStatus(err)
		writeError(w, status, err, retryable)
		return
	}
	writeJSON(w, http.StatusOK, s.modeState())
}

func modeErrorStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, capture.ErrStopped):
		return http.StatusServiceUnavailable, false
	case errors.Is(err, stt.ErrEngineUnsupported):
		return http.StatusUnprocessableEntity, false
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden, false
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, true
	default:
		return http.StatusInternalServerError, stt.Retryable(err)
	}
}

type pageBody struct {
	Fragments []anchor.Fragment `json:"fragments"`

	// Current marks the page as the one being read.
	Current bool `json:"current,omitempty"`
}

func (s *Server) handlePutPage(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	var req pageBody
	if !decode(w, r, &req) {
		return
	}
	s.deps.Pages.SetPage(page, req.Fragments)
	if req.Current {
		s.deps.Assistant.SetCurrentPage(page)
	}
	slog.Debug("api: page registered", "page", page, "fragments", len(req.Fragments), "current", req.Current)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	s.deps.Pages.RemovePage(page)
	w.WriteHeader(http.StatusNoContent)
}

type askBody struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askBody
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, qa.ErrEmptyQuestion, false)
		return
	}
	res, err := s.deps.Assistant.Ask(r.Context(), req.Question)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, qa.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err, false)
	case errors.Is(err, qa.ErrNetwork):
		writeError(w, http.StatusBadGateway, err, true)
	case errors.Is(err, qa.ErrBackend):
		writeError(w, http.StatusBadGateway, err, false)
	default:
		writeError(w, http.StatusInternalServerError, err, false)
	}
}

type locateBody struct {
	Page    int      `json:"page"`
	Snippet string   `json:"snippet"`
	Query   string   `json:"query,omitempty"`
	Anchors []string `json:"anchors,omitempty"`
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	var req locateBody
	if !decode(w, r, &req) {
		return
	}
	if req.Page <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("api: page must be positive"), false)
		return
	}
	m, err := s.deps.Locator.Locate(req.Page, req.Snippet, req.Query, req.Anchors...)
	if errors.Is(err, anchor.ErrNoMatch) {
		writeError(w, http.StatusNotFound, err, false)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, false)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type voiceBody struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voices == nil {
		writeJSON(w, http.StatusOK, []voiceBody{})
		return
	}
	voices, err := s.deps.Voices.ListVoices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err, true)
		return
	}
	out := make([]voiceBody, 0, len(voices))
	for _, v := range voices {
		out = append(out, voiceBody{ID: v.ID, Name: v.Name, Provider: v.Provider, Metadata: v.Metadata})
	}
	writeJSON(w, http.StatusOK, out)
}

func pageParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || page <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("api: page must be a positive integer"), false)
		return 0, false
	}
	return page, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("api: invalid request body: "+err.Error()), false)
		return false
	}
	return true
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func writeError(w http.ResponseWriter, status int, err error, retryable bool) {
	writeJSON(w, status, errorBody{Error: err.Error(), Retryable: retryable})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: write response", "err", err)
	}
}
