package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

// retryLoop drives a Degraded entry to Consistent/Absent, or to Inconsistent
// once the retry budget is spent.
func (e *Engine) retryLoop(id string, ent *entry) {
	defer e.bgWG.Done()

	cfg := e.config.Retry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		e.logger.Debug("degraded_retry_scheduled",
			slog.String("page_id", id),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	// The first attempt already happened inside Apply.
	first := true
	err := ngerrors.Retry(e.bgCtx, cfg, func(ctx context.Context) error {
		if first {
			first = false
			return e.currentError(ent)
		}
		if err := e.retryOnce(id, ent); !errors.Is(err, errSuperseded) {
			return err
		}
		return nil
	})

	switch {
	case err == nil:
	case e.bgCtx.Err() != nil:
		// Shutting down; the entry stays Degraded for this process lifetime.
	default:
		e.markInconsistent(id, ent, err)
	}
}

// errSuperseded stops retrying an entry that a newer mutation replaced.
var errSuperseded = errors.New("superseded by a newer mutation")

func (e *Engine) currentError(ent *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent.lastErr == nil {
		return errors.New("index update pending")
	}
	return ent.lastErr
}

// retryOnce re-applies the pending halves of ent under the id lock.
func (e *Engine) retryOnce(id string, ent *entry) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	e.mu.Lock()
	current := e.entries[id] == ent
	state := ent.state
	e.mu.Unlock()
	if !current {
		return errSuperseded
	}
	if state != Degraded && state != Inconsistent {
		return nil
	}

	e.mu.Lock()
	ent.attempts++
	e.mu.Unlock()

	report := e.syncEntry(id, ent)
	if ent.pendingGraph || ent.pendingText {
		return ent.lastErr
	}

	e.logger.Info("degraded_recovered",
		slog.String("page_id", id),
		slog.Int64("version", ent.version),
		slog.Int("attempts", ent.attempts))
	if len(report.Dangling) > 0 {
		e.logger.Info("dangling_references",
			slog.String("page_id", id),
			slog.String("code", ngerrors.ErrCodeDanglingReference),
			slog.Int("count", len(report.Dangling)))
	}
	e.resolve(id, ent)
	return nil
}

func (e *Engine) markInconsistent(id string, ent *entry, cause error) {
	e.mu.Lock()
	if e.entries[id] != ent {
		e.mu.Unlock()
		return
	}
	ent.state = Inconsistent
	ent.lastErr = cause
	sides := ent.pendingSides()
	e.mu.Unlock()

	// Wake Await callers; they observe Inconsistent.
	closeOnce(ent.done)

	e.logger.Error("page_inconsistent",
		slog.String("page_id", id),
		slog.Int64("version", ent.version),
		slog.Any("stale", sides),
		slog.String("retry_token", ent.token),
		slog.String("code", ngerrors.ErrCodeIndexInconsistent),
		slog.String("error", cause.Error()))
}

func inconsistentError(id string, ent *entry) error {
	return ngerrors.New(ngerrors.ErrCodeIndexInconsistent,
		fmt.Sprintf("page %q version %d could not be indexed", id, ent.version), ent.lastErr).
		WithDetail("page_id", id).
		WithDetail("retry_token", ent.token).
		WithSuggestion("Run 'notegraph check --repair' or retry with the token")
}

// Retry synchronously re-applies the missing index updates for the mutation
// identified by token. It returns nil once the page is consistent, and
// UnknownToken for tokens that were never issued or already resolved.
func (e *Engine) Retry(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	id, ok := e.tokens[token]
	var ent *entry
	if ok {
		ent = e.entries[id]
	}
	e.mu.Unlock()
	if !ok || ent == nil || ent.token != token {
		return ngerrors.New(ngerrors.ErrCodeUnknownToken, "unknown or resolved retry token", nil).
			WithDetail("retry_token", token)
	}

	err := e.retryOnce(id, ent)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errSuperseded):
		return nil
	default:
		e.mu.Lock()
		state := ent.state
		e.mu.Unlock()
		if state == Inconsistent {
			return inconsistentError(id, ent)
		}
		return degradedError(id, ent)
	}
}

// Await blocks until id has no pending index work. It returns nil when the
// page is settled, IndexInconsistent if retries were exhausted, or the
// context error.
func (e *Engine) Await(ctx context.Context, id string) error {
	for {
		e.mu.Lock()
		ent, ok := e.entries[id]
		e.mu.Unlock()
		if !ok {
			return nil
		}

		select {
		case <-ent.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		e.mu.Lock()
		state, current := ent.state, e.entries[id] == ent
		e.mu.Unlock()
		if current && state == Inconsistent {
			return inconsistentError(id, ent)
		}
	}
}

// PageState describes the synchronization state of one id.
type PageState struct {
	ID         string `json:"id"`
	State      State  `json:"state"`
	Version    int64  `json:"version"`
	RetryToken string `json:"retry_token,omitempty"`
	Stale      []Side `json:"stale,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// State returns the synchronization state of id. Ids with no pending work
// are Consistent when indexed and Absent otherwise.
func (e *Engine) State(id string) PageState {
	e.mu.Lock()
	ent, ok := e.entries[id]
	if ok {
		ps := PageState{
			ID:         id,
			State:      ent.state,
			Version:    ent.version,
			RetryToken: ent.token,
			Stale:      ent.pendingSides(),
			Attempts:   ent.attempts,
			LastError:  errString(ent.lastErr),
		}
		e.mu.Unlock()
		return ps
	}
	e.mu.Unlock()

	if v := e.text.Version(id); v > 0 {
		return PageState{ID: id, State: Consistent, Version: v}
	}
	return PageState{ID: id, State: Absent}
}

// Pending returns the state of every id with outstanding index work, sorted by id.
func (e *Engine) Pending() []PageState {
	e.mu.Lock()
	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	slices.Sort(ids)
	out := make([]PageState, 0, len(ids))
	for _, id := range ids {
		if ps := e.State(id); ps.State != Consistent && ps.State != Absent {
			out = append(out, ps)
		}
	}
	return out
}
