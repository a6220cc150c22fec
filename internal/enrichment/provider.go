package enrichment

import (
	"context"
	"errors"
)

// ErrNoTranscript means the provider has no transcript for the video.
var ErrNoTranscript = errors.New("no transcript available")

type TranscriptProvider interface {
	Transcript(ctx context.Context, videoID string) (string, error)
}
