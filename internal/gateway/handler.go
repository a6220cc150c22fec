package gateway

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/feed"
	"ytindexer/internal/logger"
	"ytindexer/internal/queue"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/models"
)

var acceptedContentTypes = map[string]bool{
	"application/atom+xml": true,
	"application/xml":      true,
	"text/xml":             true,
}

type Enqueuer interface {
	Name() string
	Enqueue(ctx context.Context, msg queue.Message) error
}

// Handler receives PubSubHubbub callbacks and enqueues every accepted notification.
type Handler struct {
	queue  Enqueuer
	cfg    config.WebhookConfig
	logger logger.Logger
	now    func() time.Time
}

func NewHandler(q Enqueuer, cfg config.WebhookConfig, log logger.Logger) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = constants.DefaultWebhookMaxBody
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = constants.DefaultEnqueueTimeout
	}
	return &Handler{
		queue:  q,
		cfg:    cfg,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/webhooks", h.VerifySubscription)
	router.POST("/webhooks", h.ReceiveNotification)
}

func (h *Handler) reject(c *gin.Context, status int, err *apperrors.Error) {
	metrics.IncWebhookRequest(c.Request.Method, strconv.Itoa(status))
	c.JSON(status, apperrors.ToErrorResponse(err))
}

// VerifySubscription godoc
// @Summary      Verify a hub subscription
// @Description  Echoes hub.challenge for subscribe and unsubscribe verification requests
// @Tags         webhooks
// @Produce      plain
// @Param        hub.mode          query     string  true   "subscribe or unsubscribe"
// @Param        hub.challenge     query     string  true   "Challenge to echo"
// @Param        hub.topic         query     string  false  "Topic URL"
// @Param        hub.verify_token  query     string  false  "Verify token"
// @Success      200  {string}  string
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /webhooks [get]
func (h *Handler) VerifySubscription(c *gin.Context) {
	mode := c.Query("hub.mode")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" && mode != "unsubscribe" {
		h.reject(c, http.StatusBadRequest, apperrors.ErrValidation.WithDetail("message", "hub.mode must be subscribe or unsubscribe"))
		return
	}
	if challenge == "" {
		h.reject(c, http.StatusBadRequest, apperrors.ErrValidation.WithDetail("message", "hub.challenge is required"))
		return
	}
	if h.cfg.VerifyToken != "" && c.Query("hub.verify_token") != h.cfg.VerifyToken {
		h.reject(c, http.StatusBadRequest, apperrors.ErrValidation.WithDetail("message", "hub.verify_token does not match"))
		return
	}

	h.logger.InfowCtx(c.Request.Context(), "Subscription verified",
		"mode", mode,
		"topic", c.Query("hub.topic"),
	)
	metrics.IncWebhookRequest(http.MethodGet, strconv.Itoa(http.StatusOK))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
}

// ReceiveNotification godoc
// @Summary      Receive a feed notification
// @Description  Accepts an Atom feed body and enqueues it for extraction
// @Tags         webhooks
// @Accept       xml
// @Produce      json
// @Param        feed  body      string  true  "Atom feed"
// @Success      200   "Accepted"
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      429   {object}  errors.ErrorResponse
// @Failure      503   {object}  errors.ErrorResponse
// @Router       /webhooks [post]
func (h *Handler) ReceiveNotification(c *gin.Context) {
	ctx := c.Request.Context()

	contentType := c.GetHeader("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !acceptedContentTypes[mediaType] {
		h.reject(c, http.StatusBadRequest, apperrors.ErrValidation.WithDetail("message", "content type must be an XML media type"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(c, http.StatusBadRequest, apperrors.ErrValidation.WithDetail("message", "body exceeds the size limit"))
			return
		}
		h.reject(c, http.StatusBadRequest, apperrors.ErrValidation.WithCause(err))
		return
	}
	metrics.ObserveWebhookBody(len(body))

	if len(body) == 0 {
		h.reject(c, http.StatusBadRequest, apperrors.ErrValidation.WithDetail("message", "body is empty"))
		return
	}
	if err := feed.WellFormed(body); err != nil {
		h.logger.WarnwCtx(ctx, "Rejected malformed notification", "error", err)
		h.reject(c, http.StatusBadRequest, apperrors.ErrMalformedInput.WithDetail("message", "body is not well-formed XML"))
		return
	}

	envelope := models.NewNotificationEnvelopeBuilder().
		WithPayload(body).
		WithContentType(contentType).
		WithReceivedAt(h.now()).
		WithSourceHint(c.Query("hub.topic")).
		Build()

	msg, err := queue.NewMessage(ctx, envelope)
	if err != nil {
		h.reject(c, http.StatusInternalServerError, apperrors.ErrInternal.WithCause(err))
		return
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, h.cfg.EnqueueTimeout)
	defer cancel()

	if err := h.queue.Enqueue(enqueueCtx, msg); err != nil {
		status := "unavailable"
		if errors.Is(err, queue.ErrQueueFull) {
			status = "full"
		}
		metrics.IncEnqueued(h.queue.Name(), status)
		h.logger.ErrorwCtx(ctx, "Failed to enqueue notification", "error", err, "queue", h.queue.Name())
		h.reject(c, http.StatusServiceUnavailable, apperrors.ErrServiceUnavailable.WithDetail("message", "notification queue "+status))
		return
	}

	metrics.IncEnqueued(h.queue.Name(), "ok")
	metrics.IncWebhookRequest(http.MethodPost, strconv.Itoa(http.StatusOK))
	h.logger.InfowCtx(ctx, "Enqueued notification", "message_id", msg.ID, "bytes", len(body))
	c.Status(http.StatusOK)
}
