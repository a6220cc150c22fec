package indexing

import (
	"context"
	"time"

	"ytindexer/internal/config"
	"ytindexer/internal/logger"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/models"
)

const (
	defaultReconcileInterval  = 5 * time.Minute
	defaultReconcileBatchSize = 100
	defaultReconcileMinAge    = time.Minute
)

type SweepResult struct {
	Scanned int `json:"scanned"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

// Reconciler brings the search index back in line with the document store.
type Reconciler struct {
	videos   VideoRepository
	channels ChannelRepository
	index    SearchIndex
	cfg      config.ReconcileConfig
	logger   logger.Logger
	now      func() time.Time
}

func NewReconciler(videos VideoRepository, channels ChannelRepository, index SearchIndex, cfg config.ReconcileConfig, log logger.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReconcileInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultReconcileBatchSize
	}
	if cfg.MinAge < 0 {
		cfg.MinAge = defaultReconcileMinAge
	}
	return &Reconciler{
		videos:   videos,
		channels: channels,
		index:    index,
		cfg:      cfg,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep re-propagates every unsynced document last attempted more than MinAge ago.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := r.now().Add(-r.cfg.MinAge)
	afterID := ""

	for {
		docs, err := r.videos.ListUnsynced(ctx, cutoff, afterID, r.cfg.BatchSize)
		if err != nil {
			return result, err
		}

		for i := range docs {
			doc := &docs[i]
			result.Scanned++
			if r.resync(ctx, doc) {
				result.Synced++
			} else {
				result.Failed++
			}
		}

		if len(docs) < r.cfg.BatchSize {
			break
		}
		afterID = docs[len(docs)-1].VideoID
	}

	metrics.AddReconciled("synced", result.Synced)
	metrics.AddReconciled("failed", result.Failed)
	if result.Scanned > 0 {
		r.logger.InfowCtx(ctx, "Reconciliation sweep finished",
			"scanned", result.Scanned,
			"synced", result.Synced,
			"failed", result.Failed,
		)
	}
	return result, nil
}

func (r *Reconciler) resync(ctx context.Context, doc *models.VideoDocument) bool {
	var err error
	if doc.Removed {
		err = r.index.Remove(ctx, doc.VideoID)
	} else {
		err = r.index.Put(ctx, doc.SearchEntry())
	}

	if err != nil {
		r.logger.WarnwCtx(ctx, "Reconciliation index write failed", "video_id", doc.VideoID, "error", err)
		if markErr := r.videos.MarkSyncFailed(ctx, doc); markErr != nil {
			r.logger.ErrorwCtx(ctx, "Failed to record sync failure", "video_id", doc.VideoID, "error", markErr)
		}
		return false
	}

	matched, err := r.videos.MarkSynced(ctx, doc)
	if err != nil {
		r.logger.WarnwCtx(ctx, "Failed to record sync success", "video_id", doc.VideoID, "error", err)
		return false
	}
	if !matched && !doc.Removed {
		if err := clearRemoved(ctx, r.videos, r.index, doc.VideoID); err != nil {
			r.logger.WarnwCtx(ctx, "Failed to clear removed video from search index", "video_id", doc.VideoID, "error", err)
			return false
		}
	}
	return true
}

// RecountStats recomputes every channel's video_count from the counted videos.
func (r *Reconciler) RecountStats(ctx context.Context) (int, error) {
	counts, err := r.videos.CountedPerChannel(ctx)
	if err != nil {
		return 0, err
	}
	if err := r.channels.SetVideoCounts(ctx, counts); err != nil {
		return 0, err
	}
	r.logger.InfowCtx(ctx, "Channel stats recounted", "channels", len(counts))
	return len(counts), nil
}

// Run sweeps every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorwCtx(ctx, "Reconciliation sweep failed", "error", err)
			}
		}
	}
}
