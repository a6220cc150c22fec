package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/models"
)

// Index writes and queries video documents in one Elasticsearch index.
type Index struct {
	es     *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndex(es *elasticsearch.Client, index string, log logger.Logger) *Index {
	if index == "" {
		index = constants.DefaultSearchIndex
	}
	return &Index{es: es, index: index, logger: log}
}

func (i *Index) Name() string {
	return i.index
}

// Put indexes entry with external versioning on updated_at. A version conflict means
// the index already holds the same or a newer revision and is not an error.
func (i *Index) Put(ctx context.Context, entry models.SearchEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal search entry: %w", err)
	}

	res, err := i.es.Index(i.index, bytes.NewReader(body),
		i.es.Index.WithContext(ctx),
		i.es.Index.WithDocumentID(entry.VideoID),
		i.es.Index.WithVersion(int(entry.UpdatedAt.UnixNano())),
		i.es.Index.WithVersionType("external"),
	)
	if err != nil {
		metrics.IncSearchSync("index", "error")
		return fmt.Errorf("index video %s: %w", entry.VideoID, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusConflict:
		metrics.IncSearchSync("index", "conflict")
		i.logger.DebugwCtx(ctx, "Search index holds a newer revision", "video_id", entry.VideoID)
		return nil
	case res.IsError():
		metrics.IncSearchSync("index", "error")
		return responseError("index video "+entry.VideoID, res)
	}

	metrics.IncSearchSync("index", "success")
	return nil
}

// Remove deletes the document of videoID. A missing document is not an error.
func (i *Index) Remove(ctx context.Context, videoID string) error {
	res, err := i.es.Delete(i.index, videoID, i.es.Delete.WithContext(ctx))
	if err != nil {
		metrics.IncSearchSync("delete", "error")
		return fmt.Errorf("delete video %s: %w", videoID, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound && res.IsError() {
		metrics.IncSearchSync("delete", "error")
		return responseError("delete video "+videoID, res)
	}

	metrics.IncSearchSync("delete", "success")
	return nil
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s: %s: %s", op, res.Status(), strings.TrimSpace(string(body)))
}
