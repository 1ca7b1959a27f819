package harvest_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/repo-harvester/internal/harvest"
)

type fetchResponse struct {
	page harvest.Page
	err  error
}

// scriptedFetcher replays responses in order and records every cursor it
// was called with. Once the script runs out it returns empty pages.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []fetchResponse
	cursors   []string
	sizes     []int
}

func (f *scriptedFetcher) Fetch(_ context.Context, cursor string, pageSize int) (harvest.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	f.sizes = append(f.sizes, pageSize)
	if len(f.responses) == 0 {
		return harvest.Page{}, nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.page, r.err
}

func (f *scriptedFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cursors...)
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return s.err
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fixedIDs struct {
	id uuid.UUID
}

func (g fixedIDs) NewRunID() (uuid.UUID, error) {
	return g.id, nil
}

// mockPersister is a testify mock of harvest.Persister.
type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) Upsert(ctx context.Context, repos []harvest.Repository) (int, error) {
	args := m.Called(ctx, repos)
	return args.Int(0), args.Error(1)
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// makePage builds a page of n repositories with IDs starting at firstID.
func makePage(firstID int64, n int, next string, hasNext bool, remaining int) harvest.Page {
	repos := make([]harvest.Repository, 0, n)
	for i := 0; i < n; i++ {
		id := firstID + int64(i)
		repos = append(repos, harvest.Repository{
			ID:         id,
			Name:       fmt.Sprintf("repo-%d", id),
			FullName:   fmt.Sprintf("owner/repo-%d", id),
			OwnerLogin: "owner",
			StarCount:  int(id) * 10,
			CreatedAt:  baseTime.Add(-time.Hour * 24 * 365),
			UpdatedAt:  baseTime.Add(-time.Hour),
		})
	}
	return harvest.Page{
		Repositories: repos,
		HasNext:      hasNext,
		NextCursor:   next,
		RateLimit:    harvest.RateLimit{Remaining: remaining, ResetAt: baseTime.Add(time.Hour)},
	}
}

func testOptions() harvest.Options {
	opts := harvest.DefaultOptions()
	opts.PageSize = 10
	opts.Target = 1000
	return opts
}
