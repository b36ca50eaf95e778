// Package assistant turns captured speech into answers.
//
// An [Assistant] consumes the capture orchestrator's event stream. Wake-mode
// questions go straight to the question-answering backend; podcast
// utterances are transcribed first. Each answer is located in the rendered
// page text, highlighted, and spoken back. Every step is reported to the UI
// as a [Notice].
//
// A failure handling one question never stops the pipeline.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/vaani/internal/anchor"
	"github.com/MrWong99/vaani/internal/capture"
	"github.com/MrWong99/vaani/internal/observe"
	"github.com/MrWong99/vaani/internal/qa"
	"github.com/MrWong99/vaani/internal/resilience"
	"github.com/MrWong99/vaani/pkg/provider/stt"
)

// DefaultTranscriptionConcurrency bounds parallel transcriptions of podcast
// utterances.
const DefaultTranscriptionConcurrency = 2

// Locator finds an answer's citation in the page text.
type Locator interface {
	Locate(page int, snippet, query string, anchors ...string) (anchor.Match, error)
}

// Highlighter displays a located citation.
type Highlighter interface {
	Show(anchor.Match)
}

// Speaker reads an answer aloud.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Result is the outcome of answering one question.
type Result struct {
	Question string        `json:"question"`
	Answer   qa.Answer     `json:"answer"`
	Match    *anchor.Match `json:"match,omitempty"`
}

// Option configures an [Assistant].
type Option func(*Assistant)

// WithTranscriber sets the transcriber for podcast utterances. Without one,
// utterances are dropped.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *Assistant) { a.transcriber = t }
}

// WithLocator enables citation lookup. h may be nil.
func WithLocator(l Locator, h Highlighter) Option {
	return func(a *Assistant) {
		a.locator = l
		a.highlighter = h
	}
}

// WithSpeaker enables spoken answers.
func WithSpeaker(s Speaker) Option {
	return func(a *Assistant) { a.speaker = s }
}

// WithBroadcaster publishes notices to b instead of a private broadcaster.
func WithBroadcaster(b *Broadcaster) Option {
	return func(a *Assistant) { a.notices = b }
}

// WithTranscriptionConcurrency bounds parallel transcriptions.
func WithTranscriptionConcurrency(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithRetryPolicy bounds how often a transient transcription failure is
// retried.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(a *Assistant) { a.retry = p.WithDefaults() }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// Assistant answers captured questions. It is safe for concurrent use.
type Assistant struct {
	asker       qa.Asker
	transcriber stt.Transcriber
	locator     Locator
	highlighter Highlighter
	speaker     Speaker
	notices     *Broadcaster
	metrics     *observe.Metrics
	concurrency int
	retry       resilience.RetryPolicy

	sem      *semaphore.Weighted
	page     atomic.Int64
	speaking sync.WaitGroup
}

// New returns an Assistant that sends questions to asker.
func New(asker qa.Asker, opts ...Option) *Assistant {
	a := &Assistant{
		asker:       asker,
		concurrency: DefaultTranscriptionConcurrency,
		retry:       resilience.RetryPolicy{}.WithDefaults(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.notices == nil {
		a.notices = NewBroadcaster()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.sem = semaphore.NewWeighted(int64(a.concurrency))
	return a
}

// Notices returns the broadcaster that carries the assistant's notices.
func (a *Assistant) Notices() *Broadcaster { return a.notices }

// SetCurrentPage records the page the reader is looking at. It is used to
// locate answers that cite no page.
func (a *Assistant) SetCurrentPage(page int) {
	if page > 0 {
		a.page.Store(int64(page))
	}
}

// CurrentPage returns the page last passed to SetCurrentPage, or 0.
func (a *Assistant) CurrentPage() int { return int(a.page.Load()) }

// Run consumes events until the channel closes or ctx is cancelled, then
// waits for in-flight questions.
func (a *Assistant) Run(ctx context.Context, events <-chan capture.Event) error {
	g, gctx := errgroup.WithContext(ctx)
	defer a.speaking.Wait()
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return g.Wait()
			}
			a.dispatch(gctx, g, ev)
		}
	}
}

func (a *Assistant) dispatch(ctx context.Context, g *errgroup.Group, ev capture.Event) {
	switch e := ev.(type) {
	case capture.PhaseChanged:
		a.notices.Publish(Notice{Kind: NoticePhase, SessionID: e.SessionID, Phase: e.To.String()})
	case capture.WakeDetected:
		a.notices.Publish(Notice{Kind: NoticeWake, SessionID: e.SessionID, Phrase: e.Phrase, At: e.At})
	case capture.QuestionCaptured:
		g.Go(func() error {
			a.handleQuestion(ctx, e.SessionID, e.Text)
			return nil
		})
	case capture.UtteranceCaptured:
		g.Go(func() error {
			a.handleUtterance(ctx, e)
			return nil
		})
	case capture.Error:
		n := errorNotice(e.SessionID, e.Err)
		n.Terminal = e.Terminal
		n.Retryable = n.Retryable || !e.Terminal
		a.notices.Publish(n)
	default:
		slog.Debug("assistant: ignoring event", "type", fmt.Sprintf("%T", ev))
	}
}

// Ask answers a typed question. The answer is spoken in the background;
// Ask returns once it has been located.
func (a *Assistant) Ask(ctx context.Context, question string) (Result, error) {
	res, err := a.answer(ctx, "", question)
	if err != nil {
		return res, err
	}
	if a.speaker != nil {
		speakCtx := context.WithoutCancel(ctx)
		a.speaking.Go(func() { a.speak(speakCtx, "", res.Answer.Text) })
	}
	return res, nil
}

// Wait blocks until answers started by Ask have finished speaking.
func (a *Assistant) Wait() { a.speaking.Wait() }

func (a *Assistant) handleUtterance(ctx context.Context, e capture.UtteranceCaptured) {
	ctx = observe.WithSession(ctx, e.SessionID)
	log := observe.Logger(ctx)
	if a.transcriber == nil {
		log.Warn("assistant: utterance dropped, no transcriber configured", "duration", e.Duration)
		return
	}
	start := time.Now()
	var text string
	err := a.retry.Do(ctx, "transcribe", stt.Retryable, func(ctx context.Context) error {
		// Held per attempt, not across backoff.
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer a.sem.Release(1)
		var err error
		text, err = a.transcriber.Transcribe(ctx, e.WAV, e.Language)
		return err
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	observe.ObserveSince(ctx, a.metrics.TranscriptionDuration, start, observe.Attr("status", status))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("assistant: transcription failed", "err", err)
		a.notices.Publish(errorNotice(e.SessionID, fmt.Errorf("assistant: transcribe: %w", err)))
		return
	}
	if strings.TrimSpace(text) == "" {
		log.Debug("assistant: utterance skipped", "err", capture.ErrEmptyUtterance, "duration", e.Duration)
		return
	}
	log.Info("assistant: utterance transcribed", "chars", len(text), "language", e.Language, "elapsed", time.Since(start))
	a.handleQuestion(ctx, e.SessionID, text)
}

func (a *Assistant) handleQuestion(ctx context.Context, sessionID, question string) {
	res, err := a.answer(ctx, sessionID, question)
	if err != nil {
		return
	}
	a.speak(ctx, sessionID, res.Answer.Text)
}

// answer asks the backend and locates the citation. Failures are published
// as notices before being returned.
func (a *Assistant) answer(ctx context.Context, sessionID, question string) (Result, error) {
	if sessionID != "" {
		ctx = observe.WithSession(ctx, sessionID)
	}
	ctx, span := observe.StartSpan(ctx, "assistant.answer")
	defer span.End()
	log := observe.Logger(ctx)

	question = strings.TrimSpace(question)
	res := Result{Question: question}
	a.notices.Publish(Notice{Kind: NoticeQuestion, SessionID: sessionID, Question: question})

	ans, err := a.asker.Ask(ctx, question)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() == nil {
			log.Warn("assistant: question failed", "err", err)
			a.notices.Publish(errorNotice(sessionID, err))
		}
		return res, fmt.Errorf("assistant: ask: %w", err)
	}
	res.Answer = ans
	a.notices.Publish(Notice{Kind: NoticeAnswer, SessionID: sessionID, Question: question, Answer: ans.Text})

	if a.locator == nil {
		return res, nil
	}
	page := ans.Page
	if page <= 0 {
		page = a.CurrentPage()
	}
	if page <= 0 {
		a.notices.Publish(Notice{Kind: NoticeUnanchored, SessionID: sessionID, Answer: ans.Text})
		return res, nil
	}
	m, err := a.locator.Locate(page, ans.Snippet, question, ans.Anchors...)
	switch {
	case err == nil:
		res.Match = &m
		if a.highlighter != nil {
			a.highlighter.Show(m)
		}
		a.notices.Publish(Notice{Kind: NoticeAnchored, SessionID: sessionID, Answer: ans.Text, Match: &m})
	case errors.Is(err, anchor.ErrNoMatch):
		log.Info("assistant: answer found but not anchored", "page", page)
		a.notices.Publish(Notice{Kind: NoticeUnanchored, SessionID: sessionID, Answer: ans.Text})
	default:
		log.Warn("assistant: locate failed", "page", page, "err", err)
		a.notices.Publish(Notice{Kind: NoticeUnanchored, SessionID: sessionID, Answer: ans.Text})
	}
	return res, nil
}

func (a *Assistant) speak(ctx context.Context, sessionID, text string) {
	if a.speaker == nil {
		return
	}
	if err := a.speaker.Speak(ctx, text); err != nil && ctx.Err() == nil {
		observe.Logger(ctx).Warn("assistant: speaking answer failed", "err", err)
		a.notices.Publish(errorNotice(sessionID, fmt.Errorf("assistant: speak: %w", err)))
	}
}

func errorNotice(sessionID string, err error) Notice {
	return Notice{
		Kind:      NoticeError,
		SessionID: sessionID,
		Error:     err.Error(),
		Retryable: errors.Is(err, qa.ErrNetwork) || stt.Retryable(err),
	}
}
