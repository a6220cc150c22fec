package enrichment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytindexer/internal/config"
	"ytindexer/internal/logger"
	"ytindexer/pkg/models"
)

func newTranscriptServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProvider_URL(t *testing.T) {
	p := NewHTTPProvider(config.TranscriptConfig{
		URL: "http://transcripts.local/v1/{video_id}?lang={languages}",
	})

	assert.Equal(t, "http://transcripts.local/v1/dQw4w9WgXcQ?lang=en%2Cen-US", p.URL("dQw4w9WgXcQ"))
}

func TestHTTPProvider_Transcript(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{
			name:        "plain text",
			contentType: "text/plain; charset=utf-8",
			body:        "  never gonna give you up\n",
			want:        "never gonna give you up",
		},
		{
			name:        "text field",
			contentType: "application/json",
			body:        `{"text":"hello world"}`,
			want:        "hello world",
		},
		{
			name:        "transcript field",
			contentType: "application/json; charset=utf-8",
			body:        `{"transcript":"hello world","text":"ignored"}`,
			want:        "hello world",
		},
		{
			name:        "segment list",
			contentType: "application/json",
			body:        `[{"text":"first","start":0.5,"duration":1.2},{"text":" "},{"text":"second"}]`,
			want:        "first\nsecond",
		},
		{
			name:        "segments field",
			contentType: "application/json",
			body:        `{"segments":[{"text":"a"},{"text":"b"}]}`,
			want:        "a\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTranscriptServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/videos/v1", r.URL.Path)
				assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = w.Write([]byte(tt.body))
			})

			p := NewHTTPProvider(config.TranscriptConfig{
				URL:     srv.URL + "/videos/{video_id}",
				Headers: map[string]string{"X-Api-Key": "secret"},
			})

			got, err := p.Transcript(context.Background(), "v1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPProvider_NoTranscript(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusNoContent} {
		srv := newTranscriptServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		p := NewHTTPProvider(config.TranscriptConfig{URL: srv.URL + "/{video_id}"})

		_, err := p.Transcript(context.Background(), "v1")
		assert.ErrorIs(t, err, ErrNoTranscript)
	}

	srv := newTranscriptServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"segments":[]}`))
	})
	p := NewHTTPProvider(config.TranscriptConfig{URL: srv.URL + "/{video_id}"})
	_, err := p.Transcript(context.Background(), "v1")
	assert.ErrorIs(t, err, ErrNoTranscript)
}

func TestHTTPProvider_ServerError(t *testing.T) {
	srv := newTranscriptServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	p := NewHTTPProvider(config.TranscriptConfig{URL: srv.URL + "/{video_id}"})

	_, err := p.Transcript(context.Background(), "v1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoTranscript)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPProvider_Timeout(t *testing.T) {
	srv := newTranscriptServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	p := NewHTTPProvider(config.TranscriptConfig{
		URL:     srv.URL + "/{video_id}",
		Timeout: 20 * time.Millisecond,
	})

	_, err := p.Transcript(context.Background(), "v1")
	assert.Error(t, err)
}

type stubProvider struct {
	calls int32
	text  string
	err   error
}

func (p *stubProvider) Transcript(ctx context.Context, videoID string) (string, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.text, p.err
}

func TestCircuitBreakerProvider_OpensOnFailures(t *testing.T) {
	stub := &stubProvider{err: errors.New("connection refused")}
	p := WrapWithCircuitBreaker(stub, "transcript-test", config.CircuitBreakerConfig{
		Enabled:      true,
		MinRequests:  2,
		FailureRatio: 0.5,
		Timeout:      time.Minute,
	})

	for i := 0; i < 2; i++ {
		_, err := p.Transcript(context.Background(), "v1")
		require.Error(t, err)
	}

	_, err := p.Transcript(context.Background(), "v1")
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.calls))
	assert.True(t, p.(*CircuitBreakerProvider).IsOpen())
}

func TestCircuitBreakerProvider_MissingTranscriptIsNotAFailure(t *testing.T) {
	stub := &stubProvider{err: ErrNoTranscript}
	p := WrapWithCircuitBreaker(stub, "transcript-missing", config.CircuitBreakerConfig{
		Enabled:      true,
		MinRequests:  1,
		FailureRatio: 0.1,
		Timeout:      time.Minute,
	})

	for i := 0; i < 3; i++ {
		_, err := p.Transcript(context.Background(), "v1")
		assert.ErrorIs(t, err, ErrNoTranscript)
	}
	assert.False(t, p.(*CircuitBreakerProvider).IsOpen())
	assert.Equal(t, int32(3), atomic.LoadInt32(&stub.calls))
}

func TestWrapWithCircuitBreaker_Disabled(t *testing.T) {
	stub := &stubProvider{text: "x"}
	assert.Same(t, stub, WrapWithCircuitBreaker(stub, "off", config.CircuitBreakerConfig{}))
}

func TestService_Transcript(t *testing.T) {
	update := &models.VideoUpdate{VideoID: "v1", ChannelID: "UC1", UpdatedAt: time.Now()}

	t.Run("returns transcript", func(t *testing.T) {
		s := NewService(&stubProvider{text: "hello"}, logger.NopLogger())
		assert.Equal(t, "hello", s.Transcript(context.Background(), update))
	})

	t.Run("provider failure is swallowed", func(t *testing.T) {
		s := NewService(&stubProvider{err: errors.New("boom")}, logger.NopLogger())
		assert.Empty(t, s.Transcript(context.Background(), update))
	})

	t.Run("missing transcript", func(t *testing.T) {
		s := NewService(&stubProvider{err: ErrNoTranscript}, logger.NopLogger())
		assert.Empty(t, s.Transcript(context.Background(), update))
	})

	t.Run("deletions are not enriched", func(t *testing.T) {
		stub := &stubProvider{text: "hello"}
		s := NewService(stub, logger.NopLogger())
		assert.Empty(t, s.Transcript(context.Background(), &models.VideoUpdate{VideoID: "v1", IsDeletion: true}))
		assert.Zero(t, atomic.LoadInt32(&stub.calls))
	})

	t.Run("nil service", func(t *testing.T) {
		var s *Service
		assert.Empty(t, s.Transcript(context.Background(), update))
	})
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{}
	assert.Nil(t, NewFromConfig(cfg, nil, logger.NopLogger()))

	cfg.Enrichment.Transcript = config.TranscriptConfig{Enabled: true}
	assert.Nil(t, NewFromConfig(cfg, nil, logger.NopLogger()))

	cfg.Enrichment.Transcript.URL = "http://transcripts.local/{video_id}"
	s := NewFromConfig(cfg, nil, logger.NopLogger())
	require.NotNil(t, s)
	_, ok := s.provider.(*HTTPProvider)
	assert.True(t, ok)
}
