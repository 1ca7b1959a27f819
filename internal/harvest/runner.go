package harvest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Runner wraps one engine run with run history, optional resume from the
// last checkpoint and a completion notification.
type Runner struct {
	engine      *Engine
	runs        RunStore
	checkpoints CheckpointStore
	publisher   Publisher
	topic       string
	ids         IDGenerator
	clock       Clock
	logger      *zap.Logger
}

// NewRunner constructs a Runner. runs, checkpoints and publisher are optional.
func NewRunner(
	engine *Engine,
	runs RunStore,
	checkpoints CheckpointStore,
	publisher Publisher,
	topic string,
	ids IDGenerator,
	clock Clock,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		engine:      engine,
		runs:        runs,
		checkpoints: checkpoints,
		publisher:   publisher,
		topic:       topic,
		ids:         ids,
		clock:       clock,
		logger:      logger,
	}
}

// Run executes a crawl. When resume is set the engine starts from the stored
// checkpoint for the query instead of the first page.
func (r *Runner) Run(ctx context.Context, resume bool) (Run, error) {
	opts := r.engine.Options()
	id, err := r.ids.NewRunID()
	if err != nil {
		return Run{}, fmt.Errorf("new run id: %w", err)
	}
	run := Run{
		ID:        id,
		Query:     opts.Query,
		Target:    opts.Target,
		StartedAt: r.clock.Now(),
		Status:    RunRunning,
	}
	logger := r.logger.With(zap.String("run_id", id.String()))
	ctx = WithRunID(ctx, id)

	start, err := r.startState(ctx, resume)
	if err != nil {
		return run, err
	}
	if start.Cursor != "" {
		logger.Info("Resuming from checkpoint", zap.String("cursor", start.Cursor))
	}

	if r.runs != nil {
		if err := r.runs.StartRun(ctx, run); err != nil {
			logger.Warn("Failed to record run start", zap.Error(err))
		}
	}

	summary, runErr := r.engine.Run(ctx, start)

	finished := r.clock.Now()
	run.FinishedAt = &finished
	run.Reason = summary.Reason
	run.Status = StatusFor(summary.Reason)
	run.Total = summary.State.Total
	run.Pages = summary.State.Pages
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}

	// Record the outcome even when the crawl itself was cancelled.
	bg := context.WithoutCancel(ctx)
	if r.runs != nil {
		if err := r.runs.FinishRun(bg, run); err != nil {
			logger.Warn("Failed to record run completion", zap.Error(err))
		}
	}
	r.notify(bg, logger, run)

	return run, runErr
}

func (r *Runner) startState(ctx context.Context, resume bool) (State, error) {
	if !resume || r.checkpoints == nil {
		return State{}, nil
	}
	cp, ok, err := r.checkpoints.Load(ctx, r.engine.Options().Query)
	if err != nil {
		return State{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return State{}, nil
	}
	return State{Cursor: cp.Cursor}, nil
}

func (r *Runner) notify(ctx context.Context, logger *zap.Logger, run Run) {
	if r.publisher == nil || r.topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":     run.ID.String(),
		"query":      run.Query,
		"status":     string(run.Status),
		"reason":     string(run.Reason),
		"total":      run.Total,
		"pages":      run.Pages,
		"started_at": run.StartedAt.Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		payload["finished_at"] = run.FinishedAt.Format(time.RFC3339)
	}
	msgID, err := r.publisher.Publish(ctx, r.topic, payload)
	if err != nil {
		logger.Warn("Failed to publish run summary", zap.Error(err))
		return
	}
	logger.Info("Run summary published", zap.String("message_id", msgID))
}
