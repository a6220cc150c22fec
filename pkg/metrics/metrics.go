package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Total number of webhook deliveries by outcome (count)",
		},
		[]string{"method", "status"},
	)

	WebhookBodyBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_body_bytes",
			Help:    "Size of accepted webhook bodies in bytes",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		},
	)

	QueueMessagesEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_enqueued_total",
			Help: "Total number of messages enqueued (count)",
		},
		[]string{"queue", "status"},
	)

	QueueMessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_processed_total",
			Help: "Total number of messages handled by consumers by outcome (count)",
		},
		[]string{"queue", "outcome"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of messages waiting in a queue (count)",
		},
		[]string{"queue"},
	)

	QueueWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_wait_duration_ms",
			Help:    "Time between enqueue and delivery in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000, 60000},
		},
		[]string{"queue"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handler_duration_ms",
			Help:    "Processing duration of one delivery in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"queue", "outcome"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of scheduled redeliveries (count)",
		},
		[]string{"queue"},
	)

	DeadLetterMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letter_messages_total",
			Help: "Total number of messages dead-lettered (count)",
		},
		[]string{"queue", "reason"},
	)

	ExtractorUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_updates_total",
			Help: "Total number of parsed feed entries by result (count)",
		},
		[]string{"result"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_checks_total",
			Help: "Total number of deduplication checks by result (count)",
		},
		[]string{"result"},
	)

	IndexingWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexing_writes_total",
			Help: "Total number of primary store writes by outcome (count)",
		},
		[]string{"outcome"},
	)

	SearchSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_sync_total",
			Help: "Total number of search index synchronisations by status (count)",
		},
		[]string{"operation", "status"},
	)

	ReconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_documents_total",
			Help: "Total number of documents visited by the reconciler (count)",
		},
		[]string{"status"},
	)

	EnrichmentProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_provider_requests_total",
			Help: "Total number of requests to enrichment providers (count)",
		},
		[]string{"provider", "status"},
	)

	EnrichmentProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrichment_provider_duration_ms",
			Help:    "Duration of enrichment provider requests in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"provider"},
	)

	SearchQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_queries_total",
			Help: "Total number of search API queries (count)",
		},
		[]string{"status"},
	)

	SearchQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_query_duration_ms",
			Help:    "Duration of search queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)
)

func RegisterGatewayMetrics() {
	prometheus.MustRegister(WebhookRequestsTotal)
	prometheus.MustRegister(WebhookBodyBytes)
	prometheus.MustRegister(SearchQueriesTotal)
	prometheus.MustRegister(SearchQueryDuration)
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func RegisterQueueMetrics() {
	prometheus.MustRegister(QueueMessagesEnqueuedTotal)
	prometheus.MustRegister(QueueMessagesProcessedTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueWaitDuration)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DeadLetterMessagesTotal)
}

func RegisterExtractorMetrics() {
	prometheus.MustRegister(ExtractorUpdatesTotal)
	prometheus.MustRegister(DedupChecksTotal)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterIndexingMetrics() {
	prometheus.MustRegister(IndexingWritesTotal)
	prometheus.MustRegister(SearchSyncTotal)
	prometheus.MustRegister(ReconcileRunsTotal)
	prometheus.MustRegister(EnrichmentProviderRequestsTotal)
	prometheus.MustRegister(EnrichmentProviderDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func IncWebhookRequest(method, status string) {
	WebhookRequestsTotal.WithLabelValues(method, status).Inc()
}

func ObserveWebhookBody(sizeBytes int) {
	WebhookBodyBytes.Observe(float64(sizeBytes))
}

func IncEnqueued(queue, status string) {
	QueueMessagesEnqueuedTotal.WithLabelValues(queue, status).Inc()
}

func IncProcessed(queue, outcome string) {
	QueueMessagesProcessedTotal.WithLabelValues(queue, outcome).Inc()
}

func SetQueueDepth(queue string, depth int64) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func ObserveQueueWait(queue string, duration time.Duration) {
	QueueWaitDuration.WithLabelValues(queue).Observe(float64(duration.Milliseconds()))
}

func ObserveHandlerDuration(queue, outcome string, duration time.Duration) {
	HandlerDuration.WithLabelValues(queue, outcome).Observe(float64(duration.Milliseconds()))
}

func IncRetry(queue string) {
	RetryAttemptsTotal.WithLabelValues(queue).Inc()
}

func IncDeadLetter(queue, reason string) {
	DeadLetterMessagesTotal.WithLabelValues(queue, reason).Inc()
}

func IncExtractorUpdate(result string) {
	ExtractorUpdatesTotal.WithLabelValues(result).Inc()
}

func IncDedupCheck(result string) {
	DedupChecksTotal.WithLabelValues(result).Inc()
}

func IncFallback(service, strategy, reason string) {
	FallbackUsageTotal.WithLabelValues(service, strategy, reason).Inc()
}

func IncIndexingWrite(outcome string) {
	IndexingWritesTotal.WithLabelValues(outcome).Inc()
}

func IncSearchSync(operation, status string) {
	SearchSyncTotal.WithLabelValues(operation, status).Inc()
}

func AddReconciled(status string, n int) {
	ReconcileRunsTotal.WithLabelValues(status).Add(float64(n))
}

func IncEnrichmentProviderRequest(provider, status string) {
	EnrichmentProviderRequestsTotal.WithLabelValues(provider, status).Inc()
}

func ObserveEnrichmentProviderDuration(provider string, duration time.Duration) {
	EnrichmentProviderDuration.WithLabelValues(provider).Observe(float64(duration.Milliseconds()))
}

func IncSearchQuery(status string) {
	SearchQueriesTotal.WithLabelValues(status).Inc()
}

func ObserveSearchQueryDuration(duration time.Duration) {
	SearchQueryDuration.Observe(float64(duration.Milliseconds()))
}
