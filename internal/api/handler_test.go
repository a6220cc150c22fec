package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytindexer/internal/indexing"
	"ytindexer/internal/logger"
	"ytindexer/internal/search"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSearcher struct {
	got    search.Query
	result *models.VideoSearchResult
	err    error
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) (*models.VideoSearchResult, error) {
	f.got = q
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeChannels struct {
	sort   indexing.ChannelSort
	limit  int
	offset int
	err    error
}

func (f *fakeChannels) List(ctx context.Context, sort indexing.ChannelSort, limit, offset int) ([]models.ChannelStats, int64, error) {
	f.sort, f.limit, f.offset = sort, limit, offset
	if f.err != nil {
		return nil, 0, f.err
	}
	return []models.ChannelStats{{ChannelID: "UC1", VideoCount: 3}}, 1, nil
}

func serve(h *Handler, target string) *httptest.ResponseRecorder {
	router := gin.New()
	h.RegisterRoutes(router)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestStatus(t *testing.T) {
	h := NewHandler(&fakeSearcher{}, &fakeChannels{}, logger.NopLogger())

	for _, path := range []string{"/", "/api/v1/health"} {
		w := serve(h, path)
		require.Equal(t, http.StatusOK, w.Code)

		var body StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, StatusResponse{
			Name:    "YouTube Indexer API",
			Version: "1.0.0",
			Status:  "online",
			Docs:    "/docs/index.html",
		}, body)
	}
}

func TestSearchVideos(t *testing.T) {
	searcher := &fakeSearcher{result: &models.VideoSearchResult{
		Results: []models.VideoSummary{{VideoID: "2g1G8Jr88xU", Title: "System Design Was HARD"}},
		Total:   1,
		Limit:   5,
		Offset:  0,
	}}
	h := NewHandler(searcher, &fakeChannels{}, logger.NopLogger())

	w := serve(h, "/api/v1/videos?query=System+Design&limit=5&channel_id=UC1&from=2024-01-01&to=2024-02-01T00:00:00Z")
	require.Equal(t, http.StatusOK, w.Code)

	var body models.VideoSearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Total)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "2g1G8Jr88xU", body.Results[0].VideoID)

	assert.Equal(t, "System Design", searcher.got.Text)
	assert.Equal(t, 5, searcher.got.Limit)
	assert.Equal(t, "UC1", searcher.got.ChannelID)
	require.NotNil(t, searcher.got.From)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *searcher.got.From)
	require.NotNil(t, searcher.got.To)
}

func TestSearchVideos_Defaults(t *testing.T) {
	searcher := &fakeSearcher{result: &models.VideoSearchResult{Results: []models.VideoSummary{}}}
	h := NewHandler(searcher, &fakeChannels{}, logger.NopLogger())

	w := serve(h, "/api/v1/videos")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, searcher.got.Limit)
	assert.Zero(t, searcher.got.Offset)
	assert.Empty(t, searcher.got.Text)
	assert.Nil(t, searcher.got.From)
}

func TestSearchVideos_InvalidParams(t *testing.T) {
	h := NewHandler(&fakeSearcher{}, &fakeChannels{}, logger.NopLogger())

	for _, target := range []string{
		"/api/v1/videos?limit=0",
		"/api/v1/videos?limit=101",
		"/api/v1/videos?limit=ten",
		"/api/v1/videos?offset=-1",
		"/api/v1/videos?from=yesterday",
		"/api/v1/videos?to=2024-13-01",
		"/api/v1/videos?query=go&offset=20000",
		"/api/v1/videos?limit=100&offset=9901",
	} {
		w := serve(h, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR", target)
	}
}

func TestSearchVideos_IndexUnavailable(t *testing.T) {
	searcher := &fakeSearcher{err: apperrors.ErrServiceUnavailable.WithCause(errors.New("dial tcp: connection refused"))}
	h := NewHandler(searcher, &fakeChannels{}, logger.NopLogger())

	w := serve(h, "/api/v1/videos?query=go")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SERVICE_UNAVAILABLE", body.ErrorCode)
	assert.True(t, body.Retryable)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestListChannels(t *testing.T) {
	channels := &fakeChannels{}
	h := NewHandler(&fakeSearcher{}, channels, logger.NopLogger())

	w := serve(h, "/api/v1/channels?sort=video_count:asc&limit=20&offset=40")
	require.Equal(t, http.StatusOK, w.Code)

	var body models.ChannelListResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Total)
	assert.Equal(t, 20, body.Limit)
	assert.Equal(t, 40, body.Offset)
	require.Len(t, body.Results, 1)
	assert.Equal(t, int64(3), body.Results[0].VideoCount)

	assert.Equal(t, indexing.ChannelSort{Field: "video_count"}, channels.sort)

	w = serve(h, "/api/v1/channels")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, indexing.DefaultChannelSort, channels.sort)
	assert.Equal(t, 10, channels.limit)
}

func TestListChannels_Errors(t *testing.T) {
	h := NewHandler(&fakeSearcher{}, &fakeChannels{}, logger.NopLogger())
	w := serve(h, "/api/v1/channels?sort=title")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h = NewHandler(&fakeSearcher{}, &fakeChannels{err: errors.New("mongo down")}, logger.NopLogger())
	w = serve(h, "/api/v1/channels")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "SERVICE_UNAVAILABLE")
}
