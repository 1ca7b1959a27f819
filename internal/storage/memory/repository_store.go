// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/repo-harvester/internal/harvest"
)

// RepositoryStore keeps repositories in a map keyed by ID. Each Upsert call
// is applied all-or-nothing.
type RepositoryStore struct {
	mu    sync.RWMutex
	repos map[int64]harvest.Repository
	now   func() time.Time

	// FailOn, when set, is consulted for every staged row; a non-nil error
	// aborts the whole page.
	FailOn func(harvest.Repository) error
}

// NewRepositoryStore constructs an empty store using now for crawl timestamps.
func NewRepositoryStore(now func() time.Time) *RepositoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RepositoryStore{
		repos: make(map[int64]harvest.Repository),
		now:   now,
	}
}

// Upsert stages every row and commits the page only if all of them succeed.
func (s *RepositoryStore) Upsert(_ context.Context, repos []harvest.Repository) (int, error) {
	if len(repos) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	crawledAt := s.now()
	staged := make(map[int64]harvest.Repository, len(repos))
	for _, repo := range repos {
		if repo.ID == 0 {
			return 0, &harvest.PersistenceError{Op: "upsert", Cause: errors.New("repository id is required")}
		}
		if s.FailOn != nil {
			if err := s.FailOn(repo); err != nil {
				return 0, &harvest.PersistenceError{Op: "upsert", Cause: err}
			}
		}
		existing, ok := staged[repo.ID]
		if !ok {
			existing, ok = s.repos[repo.ID]
		}
		if ok {
			existing.StarCount = repo.StarCount
			existing.UpdatedAt = repo.UpdatedAt
			existing.CrawledAt = crawledAt
			staged[repo.ID] = existing
			continue
		}
		repo.CrawledAt = crawledAt
		staged[repo.ID] = repo
	}
	for id, repo := range staged {
		s.repos[id] = repo
	}
	return len(repos), nil
}

// Get returns the stored repository for id.
func (s *RepositoryStore) Get(id int64) (harvest.Repository, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo, ok := s.repos[id]
	return repo, ok
}

// Len returns the number of stored repositories.
func (s *RepositoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.repos)
}

// CheckpointStore keeps checkpoints per query key.
type CheckpointStore struct {
	mu  sync.RWMutex
	cps map[string]harvest.Checkpoint
}

// NewCheckpointStore constructs an empty CheckpointStore.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{cps: make(map[string]harvest.Checkpoint)}
}

// Load returns the checkpoint for key, if any.
func (s *CheckpointStore) Load(_ context.Context, key string) (harvest.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.cps[key]
	return cp, ok, nil
}

// Save replaces the checkpoint for cp.Key.
func (s *CheckpointStore) Save(_ context.Context, cp harvest.Checkpoint) error {
	if cp.Key == "" {
		return fmt.Errorf("checkpoint key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps[cp.Key] = cp
	return nil
}

// Clear removes the checkpoint for key.
func (s *CheckpointStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cps, key)
	return nil
}

// RunStore keeps run history in insertion order.
type RunStore struct {
	mu   sync.RWMutex
	runs []harvest.Run
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{}
}

// StartRun records a new run.
func (s *RunStore) StartRun(_ context.Context, run harvest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.runs {
		if existing.ID == run.ID {
			return errors.New("run already exists")
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

// FinishRun replaces the stored run with the final state.
func (s *RunStore) FinishRun(_ context.Context, run harvest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	return errors.New("run not found")
}

// ListRuns returns up to limit runs, most recent start first.
func (s *RunStore) ListRuns(_ context.Context, limit int) ([]harvest.Run, error) {
	s.mu.RLock()
	out := make([]harvest.Run, len(s.runs))
	copy(out, s.runs)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
