package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ytindexer/internal/constants"
	"ytindexer/internal/indexing"
	"ytindexer/internal/logger"
	"ytindexer/internal/search"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/models"
)

type VideoSearcher interface {
	Search(ctx context.Context, q search.Query) (*models.VideoSearchResult, error)
}

type ChannelLister interface {
	List(ctx context.Context, sort indexing.ChannelSort, limit, offset int) ([]models.ChannelStats, int64, error)
}

// StatusResponse is served by the root and health endpoints.
type StatusResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Docs    string `json:"docs"`
}

type Handler struct {
	videos   VideoSearcher
	channels ChannelLister
	logger   logger.Logger
}

func NewHandler(videos VideoSearcher, channels ChannelLister, log logger.Logger) *Handler {
	return &Handler{
		videos:   videos,
		channels: channels,
		logger:   log,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/", h.Status)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", h.Status)
		v1.GET("/videos", h.SearchVideos)
		v1.GET("/channels", h.ListChannels)
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := apperrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.InfowCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, apperrors.ToErrorResponse(err))
}

// Status godoc
// @Summary      Service status
// @Description  Name, version and docs location of the API
// @Tags         health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /api/v1/health [get]
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Name:    constants.APIName,
		Version: constants.APIVersion,
		Status:  "online",
		Docs:    constants.APIDocs,
	})
}

// SearchVideos godoc
// @Summary      Search videos
// @Description  Full-text search over titles, channel names and transcripts
// @Tags         videos
// @Produce      json
// @Param        query       query     string  false  "Search text"
// @Param        limit       query     int     false  "Page size (1-100)"  default(10)
// @Param        offset      query     int     false  "Offset"             default(0)
// @Param        channel_id  query     string  false  "Restrict to a channel"
// @Param        from        query     string  false  "Published at or after (RFC3339 or YYYY-MM-DD)"
// @Param        to          query     string  false  "Published at or before (RFC3339 or YYYY-MM-DD)"
// @Success      200  {object}  models.VideoSearchResult
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /api/v1/videos [get]
func (h *Handler) SearchVideos(c *gin.Context) {
	limit, offset, err := paging(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	q := search.Query{
		Text:      c.Query("query"),
		ChannelID: c.Query("channel_id"),
		Limit:     limit,
		Offset:    offset,
	}
	if q.From, err = timeParam(c, "from"); err != nil {
		h.HandleError(c, err)
		return
	}
	if q.To, err = timeParam(c, "to"); err != nil {
		h.HandleError(c, err)
		return
	}
	if err := q.Normalize(); err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.videos.Search(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListChannels godoc
// @Summary      List channels
// @Description  Channel statistics ordered by the requested field
// @Tags         channels
// @Produce      json
// @Param        limit   query     int     false  "Page size (1-100)"  default(10)
// @Param        offset  query     int     false  "Offset"             default(0)
// @Param        sort    query     string  false  "last_video_published_at, video_count or last_updated_at, optionally suffixed :asc or :desc"
// @Success      200  {object}  models.ChannelListResult
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /api/v1/channels [get]
func (h *Handler) ListChannels(c *gin.Context) {
	limit, offset, err := paging(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	sort, err := indexing.ParseChannelSort(c.Query("sort"))
	if err != nil {
		h.HandleError(c, apperrors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	channels, total, err := h.channels.List(c.Request.Context(), sort, limit, offset)
	if err != nil {
		h.HandleError(c, apperrors.ErrServiceUnavailable.WithCause(err))
		return
	}

	c.JSON(http.StatusOK, models.ChannelListResult{
		Results: channels,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func paging(c *gin.Context) (int, int, error) {
	limit := constants.DefaultLimit
	if raw, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > constants.MaxLimit {
			return 0, 0, apperrors.ErrValidation.WithDetail("message", fmt.Sprintf("limit must be an integer between 1 and %d", constants.MaxLimit))
		}
		limit = n
	}

	offset := 0
	if raw, ok := c.GetQuery("offset"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, apperrors.ErrValidation.WithDetail("message", "offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

func timeParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperrors.ErrValidation.WithDetail("message", name+" must be RFC3339 or YYYY-MM-DD")
}
