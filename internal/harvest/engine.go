package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-harvester/internal/metrics"
)

// StepKind enumerates what one iteration decided.
type StepKind int

// Iteration outcomes returned by Engine.Step.
const (
	// StepAdvanced means the page was persisted and the cursor moved.
	StepAdvanced StepKind = iota
	// StepRetry means the iteration must be repeated with the same cursor.
	StepRetry
	// StepDone ends the run successfully.
	StepDone
	// StepAborted ends the run on a non-retryable remote error.
	StepAborted
	// StepFailed ends the run after too many transient failures.
	StepFailed
)

// Outcome is the decision produced by one Step. Throttle is the rate-limit
// wait owed before the next fetch; Wait is the pacing pause or retry backoff.
type Outcome struct {
	Kind     StepKind
	Reason   Reason
	Throttle time.Duration
	Wait     time.Duration
	Err      error
}

// Engine drives the fetch, persist and advance loop for a single query.
type Engine struct {
	fetcher     Fetcher
	persister   Persister
	checkpoints CheckpointStore
	clock       Clock
	sleeper     Sleeper
	retry       RetryPolicy
	opts        Options
	logger      *zap.Logger
}

// NewEngine wires an Engine. checkpoints may be nil to disable resumable
// cursors.
func NewEngine(
	opts Options,
	fetcher Fetcher,
	persister Persister,
	checkpoints CheckpointStore,
	clock Clock,
	sleeper Sleeper,
	logger *zap.Logger,
) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil || persister == nil {
		return nil, errors.New("fetcher and persister are required")
	}
	if clock == nil || sleeper == nil {
		return nil, errors.New("clock and sleeper are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fetcher:     fetcher,
		persister:   persister,
		checkpoints: checkpoints,
		clock:       clock,
		sleeper:     sleeper,
		retry:       NewRetryPolicy(opts),
		opts:        opts,
		logger:      logger,
	}, nil
}

// Options returns the options the engine was built with.
func (e *Engine) Options() Options {
	return e.opts
}

// Run loops from start until the target is reached, the remote runs out of
// pages, a remote error aborts the crawl or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, start State) (Summary, error) {
	st := start
	e.logger.Info("Starting crawl",
		zap.String("query", e.opts.Query),
		zap.Int("target", e.opts.Target),
		zap.String("cursor", st.Cursor),
	)

	for {
		if st.Total >= e.opts.Target {
			return e.finish(ctx, st, ReasonTargetReached, nil)
		}
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, st, ReasonCanceled, err)
		}

		next, out := e.Step(ctx, st)
		st = next

		switch out.Kind {
		case StepDone:
			return e.finish(ctx, st, out.Reason, nil)
		case StepAborted:
			return e.finish(ctx, st, ReasonAborted, fmt.Errorf("crawl aborted: %w", out.Err))
		case StepFailed:
			return e.finish(ctx, st, out.Reason, out.Err)
		case StepAdvanced:
			if out.Throttle > 0 {
				e.logger.Info("Rate limit low, waiting for reset",
					zap.Duration("wait", out.Throttle),
					zap.String("cursor", st.Cursor),
				)
				metrics.ObserveThrottle(out.Throttle)
				if err := e.sleeper.Sleep(ctx, out.Throttle); err != nil {
					return e.finish(ctx, st, ReasonCanceled, err)
				}
			}
		case StepRetry:
			// backoff below
		}

		if err := e.sleeper.Sleep(ctx, out.Wait); err != nil {
			return e.finish(ctx, st, ReasonCanceled, err)
		}
	}
}

// Step performs one fetch and, when the page is non-empty, one persist. It
// never sleeps; the returned Outcome tells the caller how long to wait.
func (e *Engine) Step(ctx context.Context, st State) (State, Outcome) {
	res := ClassifyFetch(e.fetcher.Fetch(ctx, st.Cursor, e.opts.PageSize))
	switch res.Kind {
	case FetchRemoteFailure:
		metrics.ObserveFetchFailure(res.Kind.String())
		e.logger.Error("Remote API rejected the query",
			zap.String("cursor", st.Cursor),
			zap.Error(res.Remote),
		)
		return st, Outcome{Kind: StepAborted, Reason: ReasonAborted, Err: res.Remote}
	case FetchTransportFailure:
		metrics.ObserveFetchFailure(res.Kind.String())
		return e.retryStep(ctx, st, "fetch", res.Cause)
	case FetchOK:
	}

	page := res.Page
	metrics.SetRateLimitRemaining(page.RateLimit.Remaining)
	if page.Len() == 0 {
		e.logger.Info("No more repositories found", zap.String("cursor", st.Cursor))
		return st, Outcome{Kind: StepDone, Reason: ReasonEmptyPage}
	}

	written, err := e.persister.Upsert(ctx, page.Repositories)
	if err != nil {
		metrics.ObservePersistFailure()
		return e.retryStep(ctx, st, "persist", err)
	}

	next := State{
		Cursor: st.Cursor,
		Total:  st.Total + page.Len(),
		Pages:  st.Pages + 1,
	}
	if page.HasNext {
		next.Cursor = page.NextCursor
		e.saveCheckpoint(ctx, next.Cursor)
	}
	metrics.ObservePage(written)
	e.logger.Info("Crawled page",
		zap.Int("page", next.Pages),
		zap.Int("written", written),
		zap.Int("total", next.Total),
		zap.Int("target", e.opts.Target),
		zap.Int("rate_limit_remaining", page.RateLimit.Remaining),
	)

	switch {
	case next.Total >= e.opts.Target:
		return next, Outcome{Kind: StepDone, Reason: ReasonTargetReached}
	case !page.HasNext:
		return next, Outcome{Kind: StepDone, Reason: ReasonExhausted}
	}
	return next, Outcome{
		Kind:     StepAdvanced,
		Throttle: e.throttleFor(page.RateLimit),
		Wait:     e.opts.Pause,
	}
}

// throttleFor returns how long to wait for the quota to reset, or zero when
// the remaining quota is above the low-water mark.
func (e *Engine) throttleFor(rl RateLimit) time.Duration {
	if rl.Remaining >= e.opts.LowWater {
		return 0
	}
	wait := rl.ResetAt.Sub(e.clock.Now()) + e.opts.RateLimitMargin
	if wait < 0 {
		return 0
	}
	return wait
}

func (e *Engine) retryStep(ctx context.Context, st State, stage string, cause error) (State, Outcome) {
	// A call cut short by cancellation is not a transient failure.
	if err := ctx.Err(); err != nil {
		return st, Outcome{
			Kind:   StepFailed,
			Reason: ReasonCanceled,
			Err:    fmt.Errorf("%s interrupted: %w", stage, err),
		}
	}
	st.Failures++
	if !e.retry.ShouldRetry(st.Failures) {
		e.logger.Error("Giving up after repeated failures",
			zap.String("stage", stage),
			zap.Int("failures", st.Failures),
			zap.Error(cause),
		)
		return st, Outcome{
			Kind:   StepFailed,
			Reason: ReasonRetriesExhausted,
			Err:    fmt.Errorf("%w: %s: %w", ErrRetriesExhausted, stage, cause),
		}
	}
	wait := e.retry.Backoff(st.Failures)
	e.logger.Warn("Crawl iteration failed, retrying with same cursor",
		zap.String("stage", stage),
		zap.String("cursor", st.Cursor),
		zap.Int("failures", st.Failures),
		zap.Duration("backoff", wait),
		zap.Error(cause),
	)
	return st, Outcome{Kind: StepRetry, Wait: wait, Err: cause}
}

func (e *Engine) saveCheckpoint(ctx context.Context, cursor string) {
	if e.checkpoints == nil {
		return
	}
	cp := Checkpoint{Key: e.opts.Query, Cursor: cursor, UpdatedAt: e.clock.Now()}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		e.logger.Warn("Failed to save checkpoint", zap.String("cursor", cursor), zap.Error(err))
	}
}

func (e *Engine) finish(ctx context.Context, st State, reason Reason, err error) (Summary, error) {
	if reason.Drained() && e.checkpoints != nil {
		if cerr := e.checkpoints.Clear(context.WithoutCancel(ctx), e.opts.Query); cerr != nil {
			e.logger.Warn("Failed to clear checkpoint", zap.Error(cerr))
		}
	}
	metrics.ObserveRun(string(reason))

	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.Int("total", st.Total),
		zap.Int("pages", st.Pages),
		zap.String("cursor", st.Cursor),
	}
	if err != nil {
		e.logger.Warn("Crawl stopped", append(fields, zap.Error(err))...)
	} else {
		e.logger.Info("Crawl completed", fields...)
	}
	return Summary{Reason: reason, State: st}, err
}
