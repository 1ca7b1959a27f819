package harvest

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is one harvested repository record.
type Repository struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	FullName   string    `json:"full_name"`
	OwnerLogin string    `json:"owner_login"`
	StarCount  int       `json:"star_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	CrawledAt  time.Time `json:"crawled_at,omitempty"`
}

// RateLimit is the quota reported by the remote API alongside every page.
type RateLimit struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Page is the result of a single paginated fetch.
type Page struct {
	Repositories []Repository `json:"repositories"`
	HasNext      bool         `json:"has_next"`
	NextCursor   string       `json:"next_cursor,omitempty"`
	RateLimit    RateLimit    `json:"rate_limit"`
}

// Len returns the number of repositories in the page.
func (p Page) Len() int {
	return len(p.Repositories)
}

// State is the loop state threaded through engine iterations. An empty
// Cursor requests the first page.
type State struct {
	Cursor   string
	Total    int
	Pages    int
	Failures int
}

// Reason explains why a crawl run stopped.
type Reason string

// Termination reasons reported in Summary.
const (
	ReasonNone             Reason = ""
	ReasonTargetReached    Reason = "target_reached"
	ReasonExhausted        Reason = "exhausted"
	ReasonEmptyPage        Reason = "empty_page"
	ReasonAborted          Reason = "aborted"
	ReasonRetriesExhausted Reason = "retries_exhausted"
	ReasonCanceled         Reason = "canceled"
)

// Drained reports whether the remote has no more data for the query.
func (r Reason) Drained() bool {
	return r == ReasonExhausted || r == ReasonEmptyPage
}

// Summary describes the outcome of Engine.Run.
type Summary struct {
	Reason Reason
	State  State
}

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunRunning  RunStatus = "running"
	RunDone     RunStatus = "done"
	RunAborted  RunStatus = "aborted"
	RunFailed   RunStatus = "failed"
	RunCanceled RunStatus = "canceled"
)

// StatusFor maps a termination reason onto the recorded run status.
func StatusFor(reason Reason) RunStatus {
	switch reason {
	case ReasonTargetReached, ReasonExhausted, ReasonEmptyPage:
		return RunDone
	case ReasonAborted:
		return RunAborted
	case ReasonCanceled:
		return RunCanceled
	default:
		return RunFailed
	}
}

// Run is the persisted history entry for one crawl invocation.
type Run struct {
	ID           uuid.UUID  `json:"run_id"`
	Query        string     `json:"query"`
	Target       int        `json:"target"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	Reason       Reason     `json:"reason,omitempty"`
	Total        int        `json:"total"`
	Pages        int        `json:"pages"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Checkpoint is the furthest durably persisted cursor for a query.
type Checkpoint struct {
	Key       string
	Cursor    string
	UpdatedAt time.Time
}

type runIDKey struct{}

// WithRunID returns a context carrying the current run ID.
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run ID stored by WithRunID.
func RunIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(runIDKey{}).(uuid.UUID)
	return id, ok
}
