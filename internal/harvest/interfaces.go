package harvest

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher issues one paginated query. An empty cursor requests the first page.
type Fetcher interface {
	Fetch(ctx context.Context, cursor string, pageSize int) (Page, error)
}

// Persister upserts a page of repositories atomically and returns the number
// of rows written.
type Persister interface {
	Upsert(ctx context.Context, repos []Repository) (int, error)
}

// CheckpointStore keeps the furthest persisted cursor per query.
type CheckpointStore interface {
	Load(ctx context.Context, key string) (Checkpoint, bool, error)
	Save(ctx context.Context, cp Checkpoint) error
	Clear(ctx context.Context, key string) error
}

// RunStore records crawl run history.
type RunStore interface {
	StartRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Publisher pushes run completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
