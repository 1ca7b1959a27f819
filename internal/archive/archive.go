// Package archive keeps a raw JSON copy of every persisted page in a blob
// store alongside the database rows.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-harvester/internal/harvest"
	"github.com/JakeFAU/repo-harvester/internal/metrics"
)

// BlobStore is implemented by the local, gcs and memory stores.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// unscopedRun names the directory used when no run ID is in the context.
const unscopedRun = "adhoc"

// Snapshot is the JSON document written for each page.
type Snapshot struct {
	RunID        string               `json:"run_id"`
	Sequence     int                  `json:"sequence"`
	ArchivedAt   time.Time            `json:"archived_at"`
	Repositories []harvest.Repository `json:"repositories"`
}

// Persister wraps another Persister and archives each page it commits.
// Archive failures are logged and counted but never fail the page.
type Persister struct {
	inner  harvest.Persister
	blobs  BlobStore
	prefix string
	now    func() time.Time
	logger *zap.Logger

	mu  sync.Mutex
	seq map[string]int
}

// New builds an archiving Persister. Objects are written under
// <prefix>/<run-id>/page-NNNNNN.json, taking the run ID from the context.
func New(inner harvest.Persister, blobs BlobStore, prefix string, now func() time.Time, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Persister{
		inner:  inner,
		blobs:  blobs,
		prefix: prefix,
		now:    now,
		logger: logger,
		seq:    make(map[string]int),
	}
}

// Upsert delegates to the wrapped Persister, then archives the page.
func (p *Persister) Upsert(ctx context.Context, repos []harvest.Repository) (int, error) {
	written, err := p.inner.Upsert(ctx, repos)
	if err != nil || len(repos) == 0 {
		return written, err
	}

	runID := unscopedRun
	if id, ok := harvest.RunIDFromContext(ctx); ok {
		runID = id.String()
	}
	p.mu.Lock()
	p.seq[runID]++
	seq := p.seq[runID]
	p.mu.Unlock()

	if uri, aerr := p.archive(ctx, runID, seq, repos); aerr != nil {
		metrics.ObserveArchiveFailure()
		p.logger.Warn("Failed to archive page", zap.Int("sequence", seq), zap.Error(aerr))
	} else {
		p.logger.Debug("Archived page", zap.Int("sequence", seq), zap.String("uri", uri))
	}
	return written, nil
}

// ObjectPath returns where page seq of a run is stored.
func (p *Persister) ObjectPath(runID string, seq int) string {
	return path.Join(p.prefix, runID, fmt.Sprintf("page-%06d.json", seq))
}

func (p *Persister) archive(ctx context.Context, runID string, seq int, repos []harvest.Repository) (string, error) {
	body, err := json.Marshal(Snapshot{
		RunID:        runID,
		Sequence:     seq,
		ArchivedAt:   p.now(),
		Repositories: repos,
	})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return p.blobs.PutObject(ctx, p.ObjectPath(runID, seq), "application/json", bytes.NewReader(body))
}
