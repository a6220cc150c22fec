package indexing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ytindexer/pkg/models"
)

// memoryVideos mirrors the conditional writes of the Mongo repository.
type memoryVideos struct {
	mu   sync.Mutex
	docs map[string]*models.VideoDocument
	now  time.Time
}

func newMemoryVideos() *memoryVideos {
	return &memoryVideos{
		docs: map[string]*models.VideoDocument{},
		now:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memoryVideos) stamp() *time.Time {
	t := m.now
	return &t
}

func (m *memoryVideos) Upsert(ctx context.Context, doc *models.VideoDocument) (UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.docs[doc.VideoID]
	if ok && (stored.Removed || !stored.UpdatedAt.Before(doc.UpdatedAt)) {
		return UpsertStale, nil
	}

	next := *doc
	next.SyncStatus = models.SyncPending
	next.LastSyncAttemptAt = m.stamp()
	if !ok {
		next.FirstSeenAt = m.now
		next.StatsCounted = false
		m.docs[doc.VideoID] = &next
		return UpsertCreated, nil
	}

	next.FirstSeenAt = stored.FirstSeenAt
	next.StatsCounted = stored.StatsCounted
	if next.Transcript == "" {
		next.Transcript = stored.Transcript
	}
	m.docs[doc.VideoID] = &next
	return UpsertUpdated, nil
}

func (m *memoryVideos) MarkRemoved(ctx context.Context, videoID, channelID string, deletedAt time.Time) (*models.VideoDocument, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.docs[videoID]
	if ok && stored.Removed {
		copied := *stored
		return &copied, false, nil
	}
	if !ok {
		stored = &models.VideoDocument{
			VideoID:     videoID,
			ChannelID:   channelID,
			UpdatedAt:   deletedAt,
			FirstSeenAt: m.now,
		}
		m.docs[videoID] = stored
	}

	at := deletedAt
	stored.Removed = true
	stored.DeletedAt = &at
	stored.SyncStatus = models.SyncPending
	stored.LastSyncAttemptAt = m.stamp()

	copied := *stored
	return &copied, true, nil
}

func (m *memoryVideos) Get(ctx context.Context, videoID string) (*models.VideoDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.docs[videoID]
	if !ok {
		return nil, ErrVideoNotFound
	}
	copied := *stored
	return &copied, nil
}

func (m *memoryVideos) setStatus(doc *models.VideoDocument, status models.SyncStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.docs[doc.VideoID]
	if !ok || !stored.UpdatedAt.Equal(doc.UpdatedAt) || stored.Removed != doc.Removed {
		return false
	}
	stored.SyncStatus = status
	stored.LastSyncAttemptAt = m.stamp()
	return true
}

func (m *memoryVideos) MarkSynced(ctx context.Context, doc *models.VideoDocument) (bool, error) {
	return m.setStatus(doc, models.SyncSynced), nil
}

func (m *memoryVideos) MarkSyncFailed(ctx context.Context, doc *models.VideoDocument) error {
	m.setStatus(doc, models.SyncFailed)
	return nil
}

func (m *memoryVideos) ClaimStatsCount(ctx context.Context, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.docs[videoID]
	if !ok || stored.Removed || stored.StatsCounted {
		return false, nil
	}
	stored.StatsCounted = true
	return true, nil
}

func (m *memoryVideos) ReleaseStatsCount(ctx context.Context, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.docs[videoID]
	if !ok || !stored.StatsCounted {
		return false, nil
	}
	stored.StatsCounted = false
	return true, nil
}

func (m *memoryVideos) ListUnsynced(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]models.VideoDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []models.VideoDocument
	for _, id := range ids {
		doc := m.docs[id]
		if id <= afterID || doc.SyncStatus == models.SyncSynced {
			continue
		}
		if doc.LastSyncAttemptAt == nil || !doc.LastSyncAttemptAt.Before(cutoff) {
			continue
		}
		out = append(out, *doc)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryVideos) CountedPerChannel(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := map[string]int64{}
	for _, doc := range m.docs {
		if doc.StatsCounted {
			counts[doc.ChannelID]++
		}
	}
	return counts, nil
}

type memoryChannels struct {
	mu       sync.Mutex
	channels map[string]*models.ChannelStats
	fail     error
}

func newMemoryChannels() *memoryChannels {
	return &memoryChannels{channels: map[string]*models.ChannelStats{}}
}

func (m *memoryChannels) RecordVideo(ctx context.Context, doc *models.VideoDocument, increment bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}
	stats, ok := m.channels[doc.ChannelID]
	if !ok {
		stats = &models.ChannelStats{ChannelID: doc.ChannelID}
		m.channels[doc.ChannelID] = stats
	}
	if increment {
		stats.VideoCount++
	}
	if doc.PublishedAt.After(stats.LastVideoPublishedAt) {
		stats.LastVideoPublishedAt = doc.PublishedAt
	}
	if doc.UpdatedAt.After(stats.LastUpdatedAt) {
		stats.LastUpdatedAt = doc.UpdatedAt
	}
	if doc.ChannelName != "" {
		stats.ChannelName = doc.ChannelName
	}
	return nil
}

func (m *memoryChannels) RecordRemoval(ctx context.Context, channelID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.channels[channelID]
	if !ok || stats.VideoCount <= 0 {
		return nil
	}
	stats.VideoCount--
	if at.After(stats.LastUpdatedAt) {
		stats.LastUpdatedAt = at
	}
	return nil
}

func (m *memoryChannels) List(ctx context.Context, sort ChannelSort, limit, offset int) ([]models.ChannelStats, int64, error) {
	return nil, 0, errors.New("not implemented")
}

func (m *memoryChannels) SetVideoCounts(ctx context.Context, counts map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, stats := range m.channels {
		stats.VideoCount = counts[id]
	}
	for id, count := range counts {
		if _, ok := m.channels[id]; !ok {
			m.channels[id] = &models.ChannelStats{ChannelID: id, VideoCount: count}
		}
	}
	return nil
}

func (m *memoryChannels) count(channelID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stats, ok := m.channels[channelID]; ok {
		return stats.VideoCount
	}
	return 0
}

// memoryIndex keeps the newest external version per document like Elasticsearch does.
type memoryIndex struct {
	mu      sync.Mutex
	entries map[string]models.SearchEntry
	puts    int
	fail    error
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{entries: map[string]models.SearchEntry{}}
}

func (m *memoryIndex) Put(ctx context.Context, entry models.SearchEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}
	m.puts++
	if current, ok := m.entries[entry.VideoID]; ok && !entry.UpdatedAt.After(current.UpdatedAt) {
		return nil
	}
	m.entries[entry.VideoID] = entry
	return nil
}

func (m *memoryIndex) Remove(ctx context.Context, videoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}
	delete(m.entries, videoID)
	return nil
}

func (m *memoryIndex) setFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *memoryIndex) get(videoID string) (models.SearchEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[videoID]
	return entry, ok
}

func (m *memoryIndex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// gatedIndex holds every Put until release is closed, so a write can be left in flight.
type gatedIndex struct {
	*memoryIndex
	entered chan struct{}
	release chan struct{}
}

func newGatedIndex() *gatedIndex {
	return &gatedIndex{
		memoryIndex: newMemoryIndex(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
}

func (g *gatedIndex) Put(ctx context.Context, entry models.SearchEntry) error {
	g.entered <- struct{}{}
	<-g.release
	return g.memoryIndex.Put(ctx, entry)
}
