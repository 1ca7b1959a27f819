package harvest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/repo-harvester/internal/harvest"
	"github.com/JakeFAU/repo-harvester/internal/storage/memory"
)

func newTestEngine(
	t *testing.T,
	opts harvest.Options,
	fetcher harvest.Fetcher,
	persister harvest.Persister,
	checkpoints harvest.CheckpointStore,
	sleeper harvest.Sleeper,
) *harvest.Engine {
	t.Helper()
	engine, err := harvest.NewEngine(opts, fetcher, persister, checkpoints, &fakeClock{now: baseTime}, sleeper, zap.NewNop())
	require.NoError(t, err)
	return engine
}

func TestEngineFollowsCursorsInOrder(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: makePage(1, 10, "c1", true, 5000)},
		{page: makePage(11, 10, "c2", true, 5000)},
		{page: makePage(21, 10, "", false, 5000)},
	}}
	store := memory.NewRepositoryStore(nil)
	sleeper := &recordingSleeper{}
	engine := newTestEngine(t, testOptions(), fetcher, store, nil, sleeper)

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.NoError(t, err)

	assert.Equal(t, []string{"", "c1", "c2"}, fetcher.calls())
	assert.Equal(t, harvest.ReasonExhausted, summary.Reason)
	assert.Equal(t, 30, summary.State.Total)
	assert.Equal(t, 3, summary.State.Pages)
	assert.Equal(t, 30, store.Len())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.waits)
	assert.Equal(t, []int{10, 10, 10}, fetcher.sizes)
}

func TestEngineStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: harvest.Page{HasNext: true, NextCursor: "c1"}},
	}}
	persister := &mockPersister{}
	engine := newTestEngine(t, testOptions(), fetcher, persister, nil, &recordingSleeper{})

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.NoError(t, err)

	assert.Equal(t, harvest.ReasonEmptyPage, summary.Reason)
	assert.Zero(t, summary.State.Total)
	assert.Len(t, fetcher.calls(), 1)
	persister.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestEngineRetriesPersistFailureWithSameCursor(t *testing.T) {
	t.Parallel()

	p1 := makePage(1, 10, "c1", true, 5000)
	p2 := makePage(11, 10, "c2", true, 5000)
	p3 := makePage(21, 10, "", false, 5000)
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: p1}, {page: p2}, {page: p2}, {page: p3},
	}}

	persister := &mockPersister{}
	persister.On("Upsert", mock.Anything, p1.Repositories).Return(10, nil).Once()
	persister.On("Upsert", mock.Anything, p2.Repositories).
		Return(0, &harvest.PersistenceError{Op: "commit", Cause: errors.New("connection reset")}).Once()
	persister.On("Upsert", mock.Anything, p2.Repositories).Return(10, nil).Once()
	persister.On("Upsert", mock.Anything, p3.Repositories).Return(10, nil).Once()

	sleeper := &recordingSleeper{}
	engine := newTestEngine(t, testOptions(), fetcher, persister, nil, sleeper)

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.NoError(t, err)

	assert.Equal(t, []string{"", "c1", "c1", "c2"}, fetcher.calls())
	assert.Equal(t, 30, summary.State.Total)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, time.Second}, sleeper.waits)
	persister.AssertExpectations(t)
}

func TestEngineRetriesTransportFailure(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{err: &harvest.TransportError{Cause: errors.New("i/o timeout")}},
		{err: errors.New("unexpected EOF")},
		{page: makePage(1, 10, "", false, 5000)},
	}}
	sleeper := &recordingSleeper{}
	engine := newTestEngine(t, testOptions(), fetcher, memory.NewRepositoryStore(nil), nil, sleeper)

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.NoError(t, err)

	assert.Equal(t, []string{"", "", ""}, fetcher.calls())
	assert.Equal(t, harvest.ReasonExhausted, summary.Reason)
	assert.Equal(t, 10, summary.State.Total)
	assert.Zero(t, summary.State.Failures)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.waits)
}

func TestEngineAbortsOnRemoteError(t *testing.T) {
	t.Parallel()

	remote := &harvest.RemoteError{
		StatusCode: 200,
		Details:    []harvest.RemoteErrorDetail{{Type: "INVALID_CURSOR_ARGUMENTS", Message: "bad cursor"}},
	}
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: makePage(1, 10, "c1", true, 5000)},
		{err: remote},
	}}
	sleeper := &recordingSleeper{}
	engine := newTestEngine(t, testOptions(), fetcher, memory.NewRepositoryStore(nil), nil, sleeper)

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.Error(t, err)

	var got *harvest.RemoteError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, "bad cursor", got.Details[0].Message)
	assert.Equal(t, harvest.ReasonAborted, summary.Reason)
	assert.Equal(t, 10, summary.State.Total)
	assert.Equal(t, "c1", summary.State.Cursor)
	assert.Len(t, fetcher.calls(), 2)
}

func TestEngineWaitsForRateLimitReset(t *testing.T) {
	t.Parallel()

	low := makePage(1, 10, "c1", true, 5)
	low.RateLimit.ResetAt = baseTime.Add(30 * time.Second)
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: low},
		{page: makePage(11, 10, "", false, 4999)},
	}}
	opts := testOptions()
	opts.RateLimitMargin = 60 * time.Second
	sleeper := &recordingSleeper{}
	engine := newTestEngine(t, opts, fetcher, memory.NewRepositoryStore(nil), nil, sleeper)

	_, err := engine.Run(context.Background(), harvest.State{})
	require.NoError(t, err)

	require.Len(t, sleeper.waits, 2)
	assert.Equal(t, 90*time.Second, sleeper.waits[0])
	assert.Equal(t, time.Second, sleeper.waits[1])
}

func TestEngineStopsAtTarget(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: makePage(1, 100, "c1", true, 5000)},
		{page: makePage(101, 100, "c2", true, 5000)},
		{page: makePage(201, 100, "c3", true, 5000)},
	}}
	opts := testOptions()
	opts.PageSize = 100
	opts.Target = 150
	engine := newTestEngine(t, opts, fetcher, memory.NewRepositoryStore(nil), nil, &recordingSleeper{})

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.NoError(t, err)

	assert.Equal(t, harvest.ReasonTargetReached, summary.Reason)
	assert.Equal(t, 200, summary.State.Total)
	assert.Equal(t, []string{"", "c1"}, fetcher.calls())
}

func TestEngineGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	transient := &harvest.TransportError{StatusCode: 502, Cause: errors.New("bad gateway")}
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{err: transient}, {err: transient}, {err: transient}, {err: transient},
	}}
	opts := testOptions()
	opts.MaxRetries = 2
	engine := newTestEngine(t, opts, fetcher, memory.NewRepositoryStore(nil), nil, &recordingSleeper{})

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.ErrorIs(t, err, harvest.ErrRetriesExhausted)
	assert.Equal(t, harvest.ReasonRetriesExhausted, summary.Reason)
	assert.Equal(t, 3, summary.State.Failures)
	assert.Len(t, fetcher.calls(), 3)
}

func TestEngineStopsWhenSleepIsCancelled(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: makePage(1, 10, "c1", true, 5000)},
	}}
	sleeper := &recordingSleeper{err: context.Canceled}
	engine := newTestEngine(t, testOptions(), fetcher, memory.NewRepositoryStore(nil), nil, sleeper)

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, harvest.ReasonCanceled, summary.Reason)
	assert.Equal(t, "c1", summary.State.Cursor)
	assert.Equal(t, 10, summary.State.Total)
}

func TestEngineDoesNotFetchWithCancelledContext(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{}
	engine := newTestEngine(t, testOptions(), fetcher, memory.NewRepositoryStore(nil), nil, &recordingSleeper{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := engine.Run(ctx, harvest.State{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, harvest.ReasonCanceled, summary.Reason)
	assert.Empty(t, fetcher.calls())
}

func TestEngineCheckpointsPersistedCursor(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: makePage(1, 100, "c1", true, 5000)},
	}}
	checkpoints := memory.NewCheckpointStore()
	opts := testOptions()
	opts.PageSize = 100
	opts.Target = 100
	engine := newTestEngine(t, opts, fetcher, memory.NewRepositoryStore(nil), checkpoints, &recordingSleeper{})

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.NoError(t, err)
	assert.Equal(t, harvest.ReasonTargetReached, summary.Reason)

	cp, ok, err := checkpoints.Load(context.Background(), opts.Query)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", cp.Cursor)
	assert.Equal(t, baseTime, cp.UpdatedAt)
}

func TestEngineClearsCheckpointWhenDrained(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: makePage(1, 10, "c1", true, 5000)},
		{page: makePage(11, 10, "", false, 5000)},
	}}
	checkpoints := memory.NewCheckpointStore()
	opts := testOptions()
	engine := newTestEngine(t, opts, fetcher, memory.NewRepositoryStore(nil), checkpoints, &recordingSleeper{})

	_, err := engine.Run(context.Background(), harvest.State{})
	require.NoError(t, err)

	_, ok, err := checkpoints.Load(context.Background(), opts.Query)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStepAdvancesOnePage(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: makePage(1, 10, "c5", true, 5000)},
	}}
	engine := newTestEngine(t, testOptions(), fetcher, memory.NewRepositoryStore(nil), nil, &recordingSleeper{})

	next, out := engine.Step(context.Background(), harvest.State{Cursor: "c4", Total: 40, Pages: 4, Failures: 2})

	assert.Equal(t, harvest.StepAdvanced, out.Kind)
	assert.Equal(t, time.Second, out.Wait)
	assert.Zero(t, out.Throttle)
	assert.Equal(t, harvest.State{Cursor: "c5", Total: 50, Pages: 5}, next)
	assert.Equal(t, []string{"c4"}, fetcher.calls())
}

func TestStepKeepsCursorOnPersistFailure(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: makePage(1, 10, "c5", true, 5000)},
	}}
	store := memory.NewRepositoryStore(nil)
	store.FailOn = func(harvest.Repository) error { return errors.New("deadlock detected") }
	engine := newTestEngine(t, testOptions(), fetcher, store, nil, &recordingSleeper{})

	start := harvest.State{Cursor: "c4", Total: 40, Pages: 4}
	next, out := engine.Step(context.Background(), start)

	assert.Equal(t, harvest.StepRetry, out.Kind)
	assert.Equal(t, 5*time.Second, out.Wait)
	assert.Equal(t, "c4", next.Cursor)
	assert.Equal(t, 40, next.Total)
	assert.Equal(t, 1, next.Failures)
	var perr *harvest.PersistenceError
	assert.ErrorAs(t, out.Err, &perr)
}

func TestStepSkipsThrottleWhenResetHasPassed(t *testing.T) {
	t.Parallel()

	page := makePage(1, 10, "c1", true, 1)
	page.RateLimit.ResetAt = baseTime.Add(-2 * time.Minute)
	fetcher := &scriptedFetcher{responses: []fetchResponse{{page: page}}}
	engine := newTestEngine(t, testOptions(), fetcher, memory.NewRepositoryStore(nil), nil, &recordingSleeper{})

	_, out := engine.Step(context.Background(), harvest.State{})
	assert.Equal(t, harvest.StepAdvanced, out.Kind)
	assert.Zero(t, out.Throttle)
}

func TestNewEngineValidatesOptions(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.PageSize = 101
	_, err := harvest.NewEngine(opts, &scriptedFetcher{}, memory.NewRepositoryStore(nil), nil,
		&fakeClock{}, &recordingSleeper{}, nil)
	require.Error(t, err)

	_, err = harvest.NewEngine(testOptions(), nil, memory.NewRepositoryStore(nil), nil,
		&fakeClock{}, &recordingSleeper{}, nil)
	require.Error(t, err)
}

func TestEngineRetriesPageWithoutCursor(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: makePage(1, 10, "", true, 5000)},
		{page: makePage(1, 10, "c1", true, 5000)},
		{page: makePage(11, 10, "", false, 5000)},
	}}
	store := memory.NewRepositoryStore(nil)
	sleeper := &recordingSleeper{}
	opts := testOptions()
	opts.Target = 30
	engine := newTestEngine(t, opts, fetcher, store, nil, sleeper)

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.NoError(t, err)

	assert.Equal(t, []string{"", "", "c1"}, fetcher.calls())
	assert.Equal(t, harvest.ReasonExhausted, summary.Reason)
	assert.Equal(t, 20, summary.State.Total)
	assert.Equal(t, 2, summary.State.Pages)
	assert.Equal(t, 5*time.Second, sleeper.waits[0])
}

func TestEngineNeverRestartsFromFirstPage(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResponse{
		{page: makePage(1, 10, "", true, 5000)},
		{page: makePage(1, 10, "", true, 5000)},
		{page: makePage(1, 10, "", true, 5000)},
	}}
	opts := testOptions()
	opts.Target = 30
	opts.MaxRetries = 2
	engine := newTestEngine(t, opts, fetcher, memory.NewRepositoryStore(nil), nil, &recordingSleeper{})

	summary, err := engine.Run(context.Background(), harvest.State{})
	require.ErrorIs(t, err, harvest.ErrRetriesExhausted)
	require.ErrorIs(t, err, harvest.ErrMissingCursor)
	assert.Equal(t, harvest.ReasonRetriesExhausted, summary.Reason)
	assert.Zero(t, summary.State.Total)
	assert.Zero(t, summary.State.Pages)
}

// cancelingFetcher cancels the run while a request is in flight.
type cancelingFetcher struct {
	cancel context.CancelFunc
	calls  int
}

func (f *cancelingFetcher) Fetch(ctx context.Context, _ string, _ int) (harvest.Page, error) {
	f.calls++
	f.cancel()
	return harvest.Page{}, &harvest.TransportError{Cause: ctx.Err()}
}

func TestEngineReportsCancelDuringFetchAsCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &cancelingFetcher{cancel: cancel}
	sleeper := &recordingSleeper{}
	opts := testOptions()
	opts.MaxRetries = 1
	engine := newTestEngine(t, opts, fetcher, memory.NewRepositoryStore(nil), nil, sleeper)

	summary, err := engine.Run(ctx, harvest.State{Failures: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, harvest.ErrRetriesExhausted)
	assert.Equal(t, harvest.ReasonCanceled, summary.Reason)
	assert.Equal(t, harvest.RunCanceled, harvest.StatusFor(summary.Reason))
	assert.Equal(t, 1, fetcher.calls)
	assert.Empty(t, sleeper.waits)
}
