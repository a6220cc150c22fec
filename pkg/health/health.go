package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultProbeTimeout = 5 * time.Second

// Probe reports whether one dependency answers.
type Probe func(ctx context.Context) error

type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// HTTPStatus is 503 only when a required dependency is down.
func (r Report) HTTPStatus() int {
	if r.Status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

type check struct {
	name     string
	probe    Probe
	optional bool
}

type Registry struct {
	mu      sync.RWMutex
	checks  []check
	timeout time.Duration
}

func NewRegistry() *Registry {
	return &Registry{timeout: defaultProbeTimeout}
}

// Require registers a dependency the service cannot work without.
func (r *Registry) Require(name string, probe Probe) {
	r.add(check{name: name, probe: probe})
}

// Optional registers a dependency whose loss degrades the service but keeps it serving.
func (r *Registry) Optional(name string, probe Probe) {
	r.add(check{name: name, probe: probe, optional: true})
}

func (r *Registry) add(c check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, c)
}

// Names lists the registered checks in name order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for _, c := range r.checks {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

// Check runs every probe concurrently, each bounded by the registry timeout.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	checks := append([]check(nil), r.checks...)
	r.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	g, gCtx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = r.run(gCtx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, c := range checks {
		res := results[i]
		report.Checks[c.name] = res
		switch {
		case res.Status == StatusHealthy:
		case c.optional && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		case !c.optional:
			report.Status = StatusUnhealthy
		}
	}
	return report
}

func (r *Registry) run(ctx context.Context, c check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := c.probe(ctx)
	res := CheckResult{
		Status:     StatusHealthy,
		Optional:   c.optional,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	return res
}

func Postgres(db *sql.DB) Probe {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgresql ping failed: %w", err)
		}
		return nil
	}
}

func Redis(client *redis.Client) Probe {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	}
}

func Mongo(client *mongo.Client) Probe {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongodb ping failed: %w", err)
		}
		return nil
	}
}

// Elasticsearch treats a red cluster as down. Yellow is fine for a single node.
func Elasticsearch(client *elasticsearch.Client) Probe {
	return func(ctx context.Context) error {
		res, err := client.Cluster.Health(
			client.Cluster.Health.WithContext(ctx),
			client.Cluster.Health.WithLocal(true),
		)
		if err != nil {
			return fmt.Errorf("elasticsearch health failed: %w", err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("elasticsearch health failed: %s", res.Status())
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			return fmt.Errorf("elasticsearch health: %w", err)
		}
		if body.Status == "red" {
			return fmt.Errorf("elasticsearch cluster status is red")
		}
		return nil
	}
}
