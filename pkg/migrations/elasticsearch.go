package migrations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
)

// VideoIndexMapping is the explicit mapping of the search index.
const VideoIndexMapping = `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0
  },
  "mappings": {
    "dynamic": "strict",
    "properties": {
      "video_id":     {"type": "keyword"},
      "channel_id":   {"type": "keyword"},
      "title":        {"type": "text", "fields": {"raw": {"type": "keyword", "ignore_above": 512}}},
      "url":          {"type": "keyword", "index": false},
      "channel_name": {"type": "text", "fields": {"raw": {"type": "keyword", "ignore_above": 256}}},
      "published_at": {"type": "date"},
      "updated_at":   {"type": "date_nanos"},
      "transcript":   {"type": "text"}
    }
  }
}`

// EnsureSearchIndex creates the index with VideoIndexMapping unless it already exists.
func EnsureSearchIndex(ctx context.Context, es *elasticsearch.Client, index string) error {
	exists, err := es.Indices.Exists([]string{index}, es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", index, err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	res, err := es.Indices.Create(index,
		es.Indices.Create.WithContext(ctx),
		es.Indices.Create.WithBody(strings.NewReader(VideoIndexMapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("failed to create index %s: %s: %s", index, res.Status(), body)
	}
	return nil
}
