package indexing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ytindexer/pkg/models"
)

var ErrVideoNotFound = errors.New("video not found")

// UpsertOutcome is the result of a forward-only video write.
type UpsertOutcome string

const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
	// UpsertStale means the stored document is newer, equally new, or removed.
	UpsertStale UpsertOutcome = "stale"
)

type VideoRepository interface {
	// Upsert writes doc unless the stored revision is newer or equal, or the video is removed.
	Upsert(ctx context.Context, doc *models.VideoDocument) (UpsertOutcome, error)
	// MarkRemoved marks the video removed, inserting a tombstone when it was never seen.
	// It returns the stored document and whether this call removed it.
	MarkRemoved(ctx context.Context, videoID, channelID string, deletedAt time.Time) (*models.VideoDocument, bool, error)
	Get(ctx context.Context, videoID string) (*models.VideoDocument, error)
	// MarkSynced and MarkSyncFailed only apply while the stored revision still matches doc.
	// MarkSynced reports whether it matched.
	MarkSynced(ctx context.Context, doc *models.VideoDocument) (bool, error)
	MarkSyncFailed(ctx context.Context, doc *models.VideoDocument) error
	// ClaimStatsCount flips stats_counted to true on a live video and reports whether it flipped.
	ClaimStatsCount(ctx context.Context, videoID string) (bool, error)
	// ReleaseStatsCount flips stats_counted back to false and reports whether it flipped.
	ReleaseStatsCount(ctx context.Context, videoID string) (bool, error)
	// ListUnsynced pages through unsynced videos last attempted before cutoff, ordered by video_id.
	ListUnsynced(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]models.VideoDocument, error)
	// CountedPerChannel returns the number of counted videos per channel.
	CountedPerChannel(ctx context.Context) (map[string]int64, error)
}

type ChannelRepository interface {
	RecordVideo(ctx context.Context, doc *models.VideoDocument, increment bool) error
	RecordRemoval(ctx context.Context, channelID string, at time.Time) error
	List(ctx context.Context, sort ChannelSort, limit, offset int) ([]models.ChannelStats, int64, error)
	// SetVideoCounts overwrites video_count from counts; channels missing from counts get zero.
	SetVideoCounts(ctx context.Context, counts map[string]int64) error
}

// ChannelSort orders channel listings.
type ChannelSort struct {
	Field      string
	Descending bool
}

var channelSortFields = map[string]bool{
	"last_video_published_at": true,
	"video_count":             true,
	"last_updated_at":         true,
}

var DefaultChannelSort = ChannelSort{Field: "last_updated_at", Descending: true}

// ParseChannelSort reads "field", "field:asc" or "field:desc". Empty input is the default sort.
func ParseChannelSort(s string) (ChannelSort, error) {
	if s == "" {
		return DefaultChannelSort, nil
	}

	field, order, _ := strings.Cut(s, ":")
	if !channelSortFields[field] {
		return ChannelSort{}, fmt.Errorf("unsupported sort field %q", field)
	}

	switch order {
	case "", "desc":
		return ChannelSort{Field: field, Descending: true}, nil
	case "asc":
		return ChannelSort{Field: field}, nil
	default:
		return ChannelSort{}, fmt.Errorf("unsupported sort order %q", order)
	}
}

func (s ChannelSort) String() string {
	if s.Descending {
		return s.Field + ":desc"
	}
	return s.Field + ":asc"
}
