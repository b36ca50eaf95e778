// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 as long as the process serves HTTP. GET /readyz
// runs every [Checker] concurrently and reports
//
//	{"status": "ok" | "degraded" | "fail", "checks": {"<name>": "ok" | "degraded: ..." | "fail: ..."}}
//
// A failing required checker (the QA backend) makes the server unready with
// 503. A failing optional one (the capture device, whose loss only disables
// voice input) reports "degraded" and keeps 200.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each checker independently of the probe's own deadline.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when it is usable and must
// honour ctx.
type Checker struct {
	// Name keys the result in the response, e.g. "qa_backend".
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// level orders probe outcomes; the report takes the worst one.
type level int

const (
	levelOK level = iota
	levelDegraded
	levelFail
)

func (l level) String() string {
	switch l {
	case levelDegraded:
		return "degraded"
	case levelFail:
		return "fail"
	default:
		return "ok"
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves both probes.
type Handler struct {
	checkers []Checker
}

// New returns a Handler for a copy of checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: levelOK.String()})
}

// Readyz reports readiness.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	worst, checks := h.evaluate(r.Context())
	status := http.StatusOK
	if worst == levelFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result{Status: worst.String(), Checks: checks})
}

// evaluate runs all checkers and returns the worst level with a per-check
// summary. Each goroutine writes only its own slot.
func (h *Handler) evaluate(ctx context.Context) (level, map[string]string) {
	levels := make([]level, len(h.checkers))
	errs := make([]error, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			if errs[i] = c.Check(cctx); errs[i] != nil {
				levels[i] = levelFail
				if c.Optional {
					levels[i] = levelDegraded
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	worst := levelOK
	checks := make(map[string]string, len(h.checkers))
	for i, c := range h.checkers {
		worst = max(worst, levels[i])
		if errs[i] == nil {
			checks[c.Name] = levelOK.String()
			continue
		}
		checks[c.Name] = levels[i].String() + ": " + errs[i].Error()
	}
	return worst, checks
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
