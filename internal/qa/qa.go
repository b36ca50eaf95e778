// Package qa submits questions to the document question-answering backend.
//
// The backend speaks a small JSON contract on POST /ask:
//
//	request:  {"question": "..."}
//	response: {"answer": "...", "page": 4, "snippet": "...", "anchors": ["..."]}
//	failure:  {"error": "..."}
//
// page, snippet and anchors are optional; they locate the citation the answer
// is grounded on.
package qa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/vaani/internal/observe"
	"github.com/MrWong99/vaani/internal/resilience"
)

var (
	// ErrNetwork means the backend could not be reached or is temporarily
	// failing. The user may retry.
	ErrNetwork = errors.New("qa: network failure")

	// ErrBackend means the backend rejected the question or reported an
	// error in its response body.
	ErrBackend = errors.New("qa: backend error")

	// ErrEmptyQuestion is returned for blank questions without contacting
	// the backend.
	ErrEmptyQuestion = errors.New("qa: empty question")
)

const (
	defaultTimeout       = 60 * time.Second
	defaultRatePerMinute = 30
	maxErrorBody         = 4 << 10
)

// Answer is the backend's reply.
type Answer struct {
	Text string `json:"text"`

	// Page is the cited page, zero when none was given.
	Page    int      `json:"page,omitempty"`
	Snippet string   `json:"snippet,omitempty"`
	Anchors []string `json:"anchors,omitempty"`
}

// HasCitation reports whether the answer names a location to highlight.
func (a Answer) HasCitation() bool { return a.Page > 0 && (a.Snippet != "" || len(a.Anchors) > 0) }

// Asker answers questions.
type Asker interface {
	Ask(ctx context.Context, question string) (Answer, error)
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithRateLimit allows perMinute questions per minute with bursts of burst.
// A non-positive perMinute disables limiting.
func WithRateLimit(perMinute, burst int) Option {
	return func(cl *Client) {
		if perMinute <= 0 {
			cl.limiter = nil
			return
		}
		cl.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), max(burst, 1))
	}
}

// WithCircuitBreaker replaces the breaker configuration.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(cl *Client) { cl.breakerCfg = cfg }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// Client is an HTTP [Asker]. It is safe for concurrent use.
type Client struct {
	baseURL    string
	http       *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

var _ Asker = (*Client)(nil)

// New returns a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("qa: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		http:       &http.Client{},
		timeout:    defaultTimeout,
		limiter:    rate.NewLimiter(rate.Limit(float64(defaultRatePerMinute)/60), 3),
		breakerCfg: resilience.CircuitBreakerConfig{Name: "qa"},
	}
	for _, o := range opts {
		o(c)
	}
	if c.breakerCfg.Name == "" {
		c.breakerCfg.Name = "qa"
	}
	if c.breakerCfg.IsFailure == nil {
		c.breakerCfg.IsFailure = func(err error) bool { return errors.Is(err, ErrNetwork) }
	}
	c.breaker = resilience.NewCircuitBreaker(c.breakerCfg)
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer  string   `json:"answer"`
	Page    *int     `json:"page"`
	Snippet string   `json:"snippet"`
	Anchors []string `json:"anchors"`
	Error   string   `json:"error"`
}

// Ask submits question.
func (c *Client) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Answer{}, fmt.Errorf("qa: rate limit: %w", err)
		}
	}

	ctx, span := observe.StartSpan(ctx, "qa.ask")
	defer span.End()
	start := time.Now()

	var ans Answer
	err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		ans, err = c.ask(ctx, question)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	observe.ObserveSince(ctx, c.metrics.QADuration, start, observe.Attr("status", status))
	c.metrics.RecordProviderRequest(ctx, "qa", "ask", status)
	if err != nil {
		observe.Logger(ctx).Warn("qa: ask failed", "err", err, "elapsed", time.Since(start))
		return Answer{}, err
	}
	return ans, nil
}

func (c *Client) ask(ctx context.Context, question string) (Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(askRequest{Question: question})
	if err != nil {
		return Answer{}, fmt.Errorf("qa: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask", bytes.NewReader(body))
	if err != nil {
		return Answer{}, fmt.Errorf("qa: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := observe.CorrelationID(ctx); id != "" {
		req.Header.Set(observe.CorrelationHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return Answer{}, ctxErr
		}
		return Answer{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Answer{}, fmt.Errorf("%w: read response: %w", ErrNetwork, err)
	}

	var out askResponse
	decodeErr := json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Answer{}, fmt.Errorf("%w: status %d: %s", ErrNetwork, resp.StatusCode, errorText(out, raw))
	case resp.StatusCode >= 400:
		return Answer{}, fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, errorText(out, raw))
	case decodeErr != nil:
		return Answer{}, fmt.Errorf("%w: decode response: %w", ErrBackend, decodeErr)
	case out.Error != "":
		return Answer{}, fmt.Errorf("%w: %s", ErrBackend, out.Error)
	case strings.TrimSpace(out.Answer) == "":
		return Answer{}, fmt.Errorf("%w: empty answer", ErrBackend)
	}

	ans := Answer{
		Text:    strings.TrimSpace(out.Answer),
		Snippet: strings.TrimSpace(out.Snippet),
		Anchors: out.Anchors,
	}
	if out.Page != nil && *out.Page > 0 {
		ans.Page = *out.Page
	}
	slog.Debug("qa: answer received", "page", ans.Page, "snippet_chars", len(ans.Snippet), "anchors", len(ans.Anchors))
	return ans, nil
}

// Ping checks that the backend's /health endpoint answers with 2xx.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: health status %d", ErrNetwork, resp.StatusCode)
	}
	return nil
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State { return c.breaker.State() }

func errorText(out askResponse, raw []byte) string {
	if out.Error != "" {
		return out.Error
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
