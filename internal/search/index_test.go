package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytindexer/internal/logger"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/models"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Body   map[string]interface{}
}

type fakeES struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	response string
}

func (f *fakeES) respondWith(status int, response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.response = status, response
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/" {
		_, _ = w.Write([]byte(`{"version":{"number":"8.17.0","build_flavor":"default"},"tagline":"You Know, for Search"}`))
		return
	}

	raw, _ := io.ReadAll(r.Body)
	req := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: map[string]string{}}
	for k := range r.URL.Query() {
		req.Query[k] = r.URL.Query().Get(k)
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &req.Body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	status, response := f.status, f.response
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	if response == "" {
		response = "{}"
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(response))
}

func (f *fakeES) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestIndex(t *testing.T, fake *fakeES) *Index {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{srv.URL},
		DisableRetry: true,
	})
	require.NoError(t, err)
	return NewIndex(es, "videos", logger.NopLogger())
}

func testEntry() models.SearchEntry {
	return models.SearchEntry{
		VideoID:     "v1",
		ChannelID:   "UC1",
		Title:       "Test Video",
		URL:         "https://www.youtube.com/watch?v=v1",
		ChannelName: "Test Channel",
		PublishedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC),
	}
}

func TestIndex_PutUsesExternalVersion(t *testing.T) {
	fake := &fakeES{status: http.StatusCreated, response: `{"result":"created"}`}
	idx := newTestIndex(t, fake)
	entry := testEntry()

	require.NoError(t, idx.Put(context.Background(), entry))

	req := fake.last(t)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/videos/_doc/v1", req.Path)
	assert.Equal(t, "external", req.Query["version_type"])
	assert.Equal(t, strconv.FormatInt(entry.UpdatedAt.UnixNano(), 10), req.Query["version"])
	assert.Equal(t, "Test Video", req.Body["title"])
	assert.NotContains(t, req.Body, "transcript")
}

func TestIndex_PutConflictIsSuccess(t *testing.T) {
	fake := &fakeES{
		status:   http.StatusConflict,
		response: `{"error":{"type":"version_conflict_engine_exception"},"status":409}`,
	}
	idx := newTestIndex(t, fake)

	assert.NoError(t, idx.Put(context.Background(), testEntry()))
}

func TestIndex_PutFailure(t *testing.T) {
	fake := &fakeES{
		status:   http.StatusBadRequest,
		response: `{"error":{"type":"strict_dynamic_mapping_exception"},"status":400}`,
	}
	idx := newTestIndex(t, fake)

	err := idx.Put(context.Background(), testEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict_dynamic_mapping_exception")
}

func TestIndex_Remove(t *testing.T) {
	fake := &fakeES{status: http.StatusOK, response: `{"result":"deleted"}`}
	idx := newTestIndex(t, fake)

	require.NoError(t, idx.Remove(context.Background(), "v1"))
	req := fake.last(t)
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/videos/_doc/v1", req.Path)

	fake.respondWith(http.StatusNotFound, `{"result":"not_found"}`)
	assert.NoError(t, idx.Remove(context.Background(), "missing"))

	fake.respondWith(http.StatusForbidden, `{"error":"forbidden"}`)
	assert.Error(t, idx.Remove(context.Background(), "v1"))
}

const searchHits = `{
  "hits": {
    "total": {"value": 42, "relation": "eq"},
    "hits": [
      {"_id": "v1", "_score": 3.5, "_source": {
        "video_id": "v1", "channel_id": "UC1", "title": "Go tips",
        "url": "https://www.youtube.com/watch?v=v1", "channel_name": "Gophers",
        "published_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-02T00:00:00Z"
      }},
      {"_id": "v2", "_score": null, "_source": {
        "video_id": "v2", "channel_id": "UC1", "title": "More Go",
        "url": "https://www.youtube.com/watch?v=v2", "channel_name": "Gophers",
        "published_at": "2023-12-01T00:00:00Z", "updated_at": "2023-12-02T00:00:00Z"
      }}
    ]
  }
}`

func TestIndex_SearchFullText(t *testing.T) {
	fake := &fakeES{response: searchHits}
	idx := newTestIndex(t, fake)

	result, err := idx.Search(context.Background(), Query{Text: "go", Limit: 2, Offset: 4})
	require.NoError(t, err)

	assert.Equal(t, int64(42), result.Total)
	assert.Equal(t, 2, result.Limit)
	assert.Equal(t, 4, result.Offset)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "v1", result.Results[0].VideoID)
	assert.Equal(t, 3.5, result.Results[0].Score)
	assert.Zero(t, result.Results[1].Score)

	req := fake.last(t)
	assert.Equal(t, "/videos/_search", req.Path)
	assert.Equal(t, float64(4), req.Body["from"])
	assert.Equal(t, float64(2), req.Body["size"])

	must := req.Body["query"].(map[string]interface{})["bool"].(map[string]interface{})["must"].(map[string]interface{})
	mm := must["multi_match"].(map[string]interface{})
	assert.Equal(t, "go", mm["query"])
	assert.Equal(t, []interface{}{"title^3", "channel_name", "transcript"}, mm["fields"])

	sort := req.Body["sort"].([]interface{})
	assert.Equal(t, "_score", sort[0])
}

func TestIndex_SearchMatchAllWithFilters(t *testing.T) {
	fake := &fakeES{response: `{"hits":{"total":{"value":0},"hits":[]}}`}
	idx := newTestIndex(t, fake)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	result, err := idx.Search(context.Background(), Query{ChannelID: "UC1", From: &from, To: &to})
	require.NoError(t, err)
	assert.Empty(t, result.Results)
	assert.NotNil(t, result.Results)
	assert.Equal(t, 10, result.Limit)

	req := fake.last(t)
	boolQuery := req.Body["query"].(map[string]interface{})["bool"].(map[string]interface{})
	assert.Contains(t, boolQuery["must"], "match_all")

	filters := boolQuery["filter"].([]interface{})
	require.Len(t, filters, 2)
	assert.Equal(t, map[string]interface{}{"term": map[string]interface{}{"channel_id": "UC1"}}, filters[0])
	assert.Equal(t, map[string]interface{}{
		"range": map[string]interface{}{
			"published_at": map[string]interface{}{"gte": "2024-01-01T00:00:00Z", "lte": "2024-02-01T00:00:00Z"},
		},
	}, filters[1])

	sort := req.Body["sort"].([]interface{})
	require.Len(t, sort, 1)
	assert.Equal(t, map[string]interface{}{"published_at": map[string]interface{}{"order": "desc"}}, sort[0])
}

func TestIndex_SearchUnavailable(t *testing.T) {
	fake := &fakeES{status: http.StatusServiceUnavailable, response: `{"error":"cluster_block_exception"}`}
	idx := newTestIndex(t, fake)

	_, err := idx.Search(context.Background(), Query{Text: "go"})
	require.Error(t, err)
	assert.True(t, apperrors.IsServiceUnavailable(err))
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.ToHTTPStatus(err))
}

func TestIndex_SearchRejectedRequestIsValidation(t *testing.T) {
	fake := &fakeES{
		status:   http.StatusBadRequest,
		response: `{"error":{"type":"search_phase_execution_exception","reason":"Result window is too large"},"status":400}`,
	}
	idx := newTestIndex(t, fake)

	_, err := idx.Search(context.Background(), Query{Text: "go"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, http.StatusBadRequest, apperrors.ToHTTPStatus(err))
}

func TestIndex_SearchUnreachable(t *testing.T) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{"http://127.0.0.1:1"},
		DisableRetry: true,
	})
	require.NoError(t, err)
	idx := NewIndex(es, "", logger.NopLogger())
	assert.Equal(t, "videos", idx.Name())

	_, err = idx.Search(context.Background(), Query{})
	require.Error(t, err)
	assert.True(t, apperrors.IsServiceUnavailable(err))
}

func TestQuery_Normalize(t *testing.T) {
	from := time.Now()
	to := from.Add(-time.Hour)

	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{name: "defaults", query: Query{}},
		{name: "max limit", query: Query{Limit: 100}},
		{name: "limit too large", query: Query{Limit: 101}, wantErr: true},
		{name: "negative limit", query: Query{Limit: -1}, wantErr: true},
		{name: "negative offset", query: Query{Offset: -5}, wantErr: true},
		{name: "last page of the result window", query: Query{Limit: 100, Offset: 9900}},
		{name: "beyond the result window", query: Query{Text: "go", Limit: 10, Offset: 20000}, wantErr: true},
		{name: "inverted range", query: Query{From: &from, To: &to}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Normalize()
			if tt.wantErr {
				assert.True(t, apperrors.IsValidation(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}
