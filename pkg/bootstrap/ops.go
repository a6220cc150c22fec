package bootstrap

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ytindexer/internal/deadletter"
	"ytindexer/internal/queue"
	"ytindexer/pkg/health"
)

// NewOpsServer serves /health and /metrics for the queue workers.
func NewOpsServer(port int, registry *health.Registry) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		report := registry.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(report.HTTPStatus())
		_ = json.NewEncoder(w).Encode(report)
	})

	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}

// ConsumerOptions routes dead letters to the Postgres archive when one is open.
func (b *Base) ConsumerOptions(pg *sql.DB) []queue.ConsumerOption {
	if pg == nil {
		return nil
	}
	b.Logger.Info("Dead letters are archived in PostgreSQL")
	return []queue.ConsumerOption{queue.WithArchive(deadletter.NewPostgresArchive(pg))}
}
