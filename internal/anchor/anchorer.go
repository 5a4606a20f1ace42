package anchor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/protrace/protrace/internal/blobstore"
	"github.com/protrace/protrace/pkg/merkle"
)

// SnapshotSource yields the current tree snapshot.
type SnapshotSource interface {
	Snapshot() (*merkle.Snapshot, error)
}

// MetricsRecordFunc is called with "ok", "skipped" or "error" after each
// anchoring attempt.
type MetricsRecordFunc func(result string)

// Result describes one successful anchoring.
type Result struct {
	Payload      Payload       `json:"payload"`
	Confirmation *Confirmation `json:"confirmation"`
}

// Anchorer stores the manifest of the current snapshot and hands its root to
// a Sink. A root equal to the last anchored one is not anchored again.
type Anchorer struct {
	source SnapshotSource
	blobs  blobstore.Store
	sink   Sink
	logger *zap.Logger
	now    func() time.Time

	onMetrics MetricsRecordFunc

	mu       sync.Mutex
	lastRoot merkle.Hash
}

// NewAnchorer creates an Anchorer.
func NewAnchorer(source SnapshotSource, blobs blobstore.Store, sink Sink, logger *zap.Logger) *Anchorer {
	return &Anchorer{
		source: source,
		blobs:  blobs,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (a *Anchorer) SetMetricsRecord(fn MetricsRecordFunc) {
	a.onMetrics = fn
}

// SetClock overrides the payload timestamp source.
func (a *Anchorer) SetClock(now func() time.Time) {
	a.now = now
}

// ResumeFrom seeds the last anchored root from the ledger tail so a restart
// does not re-anchor an unchanged tree.
func (a *Anchorer) ResumeFrom(ctx context.Context, l Ledger) error {
	tail, err := l.Latest(ctx)
	if err != nil {
		return err
	}
	if tail.Index == 0 {
		return nil
	}
	root, err := merkle.ParseHash(tail.Root)
	if err != nil {
		return fmt.Errorf("ledger tail root: %w", err)
	}
	a.mu.Lock()
	a.lastRoot = root
	a.mu.Unlock()
	return nil
}

// Anchor anchors the current root. It returns merkle.ErrEmptyTree when no
// leaves exist and ErrNothingToAnchor when the root is unchanged.
func (a *Anchorer) Anchor(ctx context.Context) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.anchorLocked(ctx)
	switch {
	case err == nil:
		a.record("ok")
	case errors.Is(err, ErrNothingToAnchor), errors.Is(err, merkle.ErrEmptyTree):
		a.record("skipped")
	default:
		a.record("error")
	}
	return res, err
}

func (a *Anchorer) anchorLocked(ctx context.Context) (*Result, error) {
	snap, err := a.source.Snapshot()
	if err != nil {
		return nil, err
	}
	root := snap.Root()
	if root == a.lastRoot {
		return nil, ErrNothingToAnchor
	}

	m, err := snap.Manifest(true)
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	manifest, err := m.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	ref, err := a.blobs.Put(ctx, manifest)
	if err != nil {
		return nil, fmt.Errorf("store manifest: %w", err)
	}

	p := NewPayload(snap, ref, a.now())
	conf, err := a.sink.Anchor(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("anchor root: %w", err)
	}
	a.lastRoot = root

	a.logger.Info("root anchored",
		zap.String("root", root.String()),
		zap.Uint64("leaf_count", p.LeafCount),
		zap.String("manifest_ref", ref),
		zap.String("sink", conf.Sink),
		zap.String("confirmation", conf.ID),
	)
	return &Result{Payload: p, Confirmation: conf}, nil
}

func (a *Anchorer) record(result string) {
	if a.onMetrics != nil {
		a.onMetrics(result)
	}
}

// Start anchors every interval until ctx is cancelled.
func (a *Anchorer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := a.Anchor(ctx)
			if err != nil && !errors.Is(err, ErrNothingToAnchor) && !errors.Is(err, merkle.ErrEmptyTree) {
				a.logger.Error("periodic anchor failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
