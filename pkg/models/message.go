package models

import "time"

// NotificationEnvelope is what the gateway enqueues for every accepted webhook POST.
type NotificationEnvelope struct {
	RawPayload  []byte    `json:"raw_payload"`
	ContentType string    `json:"content_type"`
	ReceivedAt  time.Time `json:"received_at"`
	SourceHint  string    `json:"source_hint,omitempty"`
}

// VideoUpdate is one parsed feed entry, either content or a deletion notice.
type VideoUpdate struct {
	VideoID      string    `json:"video_id"`
	ChannelID    string    `json:"channel_id,omitempty"`
	Title        string    `json:"title,omitempty"`
	CanonicalURL string    `json:"url,omitempty"`
	ChannelName  string    `json:"channel_name,omitempty"`
	PublishedAt  time.Time `json:"published_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	IsDeletion   bool      `json:"is_deletion,omitempty"`
}

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

type VideoDocument struct {
	VideoID           string     `bson:"video_id" json:"video_id"`
	ChannelID         string     `bson:"channel_id,omitempty" json:"channel_id,omitempty"`
	Title             string     `bson:"title,omitempty" json:"title,omitempty"`
	URL               string     `bson:"url,omitempty" json:"url,omitempty"`
	ChannelName       string     `bson:"channel_name,omitempty" json:"channel_name,omitempty"`
	PublishedAt       time.Time  `bson:"published_at,omitempty" json:"published_at,omitempty"`
	UpdatedAt         time.Time  `bson:"updated_at" json:"updated_at"`
	SyncStatus        SyncStatus `bson:"sync_status" json:"sync_status"`
	LastSyncAttemptAt *time.Time `bson:"last_sync_attempt_at,omitempty" json:"last_sync_attempt_at,omitempty"`
	Transcript        string     `bson:"transcript,omitempty" json:"transcript,omitempty"`
	Removed           bool       `bson:"removed" json:"removed"`
	DeletedAt         *time.Time `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	StatsCounted      bool       `bson:"stats_counted" json:"-"`
	FirstSeenAt       time.Time  `bson:"first_seen_at,omitempty" json:"first_seen_at,omitempty"`
}

// SearchEntry is the search-index projection of a VideoDocument.
type SearchEntry struct {
	VideoID     string    `json:"video_id"`
	ChannelID   string    `json:"channel_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	ChannelName string    `json:"channel_name"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Transcript  string    `json:"transcript,omitempty"`
}

func (d *VideoDocument) SearchEntry() SearchEntry {
	return SearchEntry{
		VideoID:     d.VideoID,
		ChannelID:   d.ChannelID,
		Title:       d.Title,
		URL:         d.URL,
		ChannelName: d.ChannelName,
		PublishedAt: d.PublishedAt,
		UpdatedAt:   d.UpdatedAt,
		Transcript:  d.Transcript,
	}
}

// VideoSummary is one search hit as returned by the query API.
type VideoSummary struct {
	VideoID     string    `json:"video_id"`
	ChannelID   string    `json:"channel_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	ChannelName string    `json:"channel_name"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Score       float64   `json:"score,omitempty"`
}

type ChannelStats struct {
	ChannelID            string    `bson:"channel_id" json:"channel_id"`
	ChannelName          string    `bson:"channel_name,omitempty" json:"channel_name,omitempty"`
	VideoCount           int64     `bson:"video_count" json:"video_count"`
	LastVideoPublishedAt time.Time `bson:"last_video_published_at,omitempty" json:"last_video_published_at,omitempty"`
	LastUpdatedAt        time.Time `bson:"last_updated_at,omitempty" json:"last_updated_at,omitempty"`
	FirstSeenAt          time.Time `bson:"first_seen_at,omitempty" json:"first_seen_at,omitempty"`
}

type VideoSearchResult struct {
	Results []VideoSummary `json:"results"`
	Total   int64          `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

type ChannelListResult struct {
	Results []ChannelStats `json:"results"`
	Total   int64          `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}
