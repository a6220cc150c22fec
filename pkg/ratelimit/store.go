package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ytindexer/internal/config"
)

type Settings struct {
	RPS           float64
	Burst         int
	SweepInterval time.Duration
	IdleTTL       time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		RPS:           10,
		Burst:         20,
		SweepInterval: 5 * time.Minute,
		IdleTTL:       10 * time.Minute,
	}
}

// FromConfig reads api.rate_limit; zero fields keep their defaults. Intervals are in seconds.
func FromConfig(cfg config.RateLimitConfig) Settings {
	s := DefaultSettings()
	if cfg.RPS > 0 {
		s.RPS = cfg.RPS
	}
	if cfg.Burst > 0 {
		s.Burst = cfg.Burst
	}
	if cfg.CleanupInterval > 0 {
		s.SweepInterval = time.Duration(cfg.CleanupInterval) * time.Second
	}
	if cfg.MaxAge > 0 {
		s.IdleTTL = time.Duration(cfg.MaxAge) * time.Second
	}
	return s
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store holds one token bucket per client key.
type Store struct {
	settings Settings
	mu       sync.Mutex
	buckets  map[string]*bucket
	now      func() time.Time
}

func NewStore(settings Settings) *Store {
	return &Store{
		settings: settings,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Take spends one token for key. When none is available it returns how long
// the caller should wait before the next attempt.
func (s *Store) Take(key string) (remaining int, wait time.Duration, ok bool) {
	now := s.now()

	s.mu.Lock()
	b, exists := s.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(s.settings.RPS), s.settings.Burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	s.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0, s.settings.IdleTTL, false
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return 0, delay, false
	}
	return int(b.limiter.TokensAt(now)), 0, true
}

// Sweep drops buckets idle for longer than IdleTTL and returns how many went.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.settings.IdleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
			dropped++
		}
	}
	return dropped
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Run sweeps on SweepInterval until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.settings.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}
