package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ytindexer/internal/constants"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/models"
)

var searchFields = []string{"title^3", "channel_name", "transcript"}

type Query struct {
	Text      string
	ChannelID string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Normalize applies the default limit and validates the paging window.
func (q *Query) Normalize() error {
	if q.Limit == 0 {
		q.Limit = constants.DefaultLimit
	}
	if q.Limit < 1 || q.Limit > constants.MaxLimit {
		return apperrors.ErrValidation.WithDetail("message", fmt.Sprintf("limit must be between 1 and %d", constants.MaxLimit))
	}
	if q.Offset < 0 {
		return apperrors.ErrValidation.WithDetail("message", "offset must not be negative")
	}
	if q.Offset+q.Limit > constants.MaxResultWindow {
		return apperrors.ErrValidation.WithDetail("message", fmt.Sprintf("offset plus limit must not exceed %d", constants.MaxResultWindow))
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return apperrors.ErrValidation.WithDetail("message", "from must not be after to")
	}
	return nil
}

func (q Query) body() map[string]interface{} {
	var must interface{}
	if q.Text == "" {
		must = map[string]interface{}{"match_all": map[string]interface{}{}}
	} else {
		must = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Text,
				"fields": searchFields,
			},
		}
	}

	var filters []interface{}
	if q.ChannelID != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"channel_id": q.ChannelID},
		})
	}
	if q.From != nil || q.To != nil {
		bounds := map[string]interface{}{}
		if q.From != nil {
			bounds["gte"] = q.From.UTC().Format(time.RFC3339)
		}
		if q.To != nil {
			bounds["lte"] = q.To.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"published_at": bounds},
		})
	}

	boolQuery := map[string]interface{}{"must": must}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	sort := []interface{}{
		map[string]interface{}{"published_at": map[string]interface{}{"order": "desc"}},
	}
	if q.Text != "" {
		sort = append([]interface{}{"_score"}, sort...)
	}

	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort":  sort,
		"from":  q.Offset,
		"size":  q.Limit,
	}
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Score  *float64           `json:"_score"`
			Source models.SearchEntry `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs q against the index. Any failure to reach the index or a 5xx answer is
// ErrServiceUnavailable. A request the index rejects as bad is ErrValidation.
func (i *Index) Search(ctx context.Context, q Query) (*models.VideoSearchResult, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { metrics.ObserveSearchQueryDuration(time.Since(start)) }()

	body, err := json.Marshal(q.body())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := i.es.Search(
		i.es.Search.WithContext(ctx),
		i.es.Search.WithIndex(i.index),
		i.es.Search.WithBody(bytes.NewReader(body)),
		i.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		metrics.IncSearchQuery("unavailable")
		i.logger.ErrorwCtx(ctx, "Search request failed", "index", i.index, "error", err)
		return nil, apperrors.ErrServiceUnavailable.WithCause(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		cause := responseError("search", res)
		if res.StatusCode >= 500 {
			metrics.IncSearchQuery("unavailable")
			i.logger.ErrorwCtx(ctx, "Search index unavailable", "index", i.index, "status", res.StatusCode)
			return nil, apperrors.ErrServiceUnavailable.WithCause(cause)
		}
		metrics.IncSearchQuery("error")
		if res.StatusCode == http.StatusBadRequest {
			i.logger.WarnwCtx(ctx, "Search request rejected", "index", i.index, "error", cause)
			return nil, apperrors.ErrValidation.WithDetail("message", "search request rejected by the index").WithCause(cause)
		}
		return nil, apperrors.ErrInternal.WithCause(cause)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		metrics.IncSearchQuery("error")
		return nil, apperrors.ErrInternal.WithCause(fmt.Errorf("decode search response: %w", err))
	}

	result := &models.VideoSearchResult{
		Results: make([]models.VideoSummary, 0, len(parsed.Hits.Hits)),
		Total:   parsed.Hits.Total.Value,
		Limit:   q.Limit,
		Offset:  q.Offset,
	}
	for _, hit := range parsed.Hits.Hits {
		summary := models.VideoSummary{
			VideoID:     hit.Source.VideoID,
			ChannelID:   hit.Source.ChannelID,
			Title:       hit.Source.Title,
			URL:         hit.Source.URL,
			ChannelName: hit.Source.ChannelName,
			PublishedAt: hit.Source.PublishedAt,
			UpdatedAt:   hit.Source.UpdatedAt,
		}
		if hit.Score != nil {
			summary.Score = *hit.Score
		}
		result.Results = append(result.Results, summary)
	}

	metrics.IncSearchQuery("success")
	return result, nil
}
