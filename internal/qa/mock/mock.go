// Package mock provides a test double for the qa.Asker interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vaani/internal/qa"
)

// Asker is a mock implementation of qa.Asker.
type Asker struct {
	mu sync.Mutex

	// Answer is returned by Ask when AskFunc is nil.
	Answer qa.Answer

	// Err, if non-nil, is returned by Ask when AskFunc is nil.
	Err error

	// AskFunc, if set, overrides Answer and Err.
	AskFunc func(ctx context.Context, question string) (qa.Answer, error)

	// Questions records every question passed to Ask.
	Questions []string
}

var _ qa.Asker = (*Asker)(nil)

// Ask records the question and returns the configured result.
func (a *Asker) Ask(ctx context.Context, question string) (qa.Answer, error) {
	a.mu.Lock()
	a.Questions = append(a.Questions, question)
	fn, ans, err := a.AskFunc, a.Answer, a.Err
	a.mu.Unlock()
	if fn != nil {
		return fn(ctx, question)
	}
	return ans, err
}

// Calls returns a copy of Questions.
func (a *Asker) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.Questions...)
}
