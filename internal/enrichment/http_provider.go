package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
)

const maxTranscriptBytes = 4 << 20

// HTTPProvider fetches transcripts from an HTTP endpoint described by a URL template
// with {video_id} and {languages} placeholders.
type HTTPProvider struct {
	client    *http.Client
	template  string
	languages []string
	headers   map[string]string
}

func NewHTTPProvider(cfg config.TranscriptConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{"en", "en-US"}
	}
	return &HTTPProvider{
		client: &http.Client{
			Timeout: timeout,
		},
		template:  cfg.URL,
		languages: languages,
		headers:   cfg.Headers,
	}
}

func (p *HTTPProvider) URL(videoID string) string {
	u := strings.ReplaceAll(p.template, "{video_id}", url.PathEscape(videoID))
	return strings.ReplaceAll(u, "{languages}", url.QueryEscape(strings.Join(p.languages, ",")))
}

func (p *HTTPProvider) Transcript(ctx context.Context, videoID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(videoID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcript request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return "", ErrNoTranscript
	}
	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		return "", fmt.Errorf("transcript api returned status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTranscriptBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	text, err := decodeTranscript(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrNoTranscript
	}
	return text, nil
}

type transcriptSegment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// decodeTranscript accepts plain text, {"text"|"transcript": "..."}, a list of
// segments, or {"segments": [...]}.
func decodeTranscript(contentType string, body []byte) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "application/json" {
		return strings.TrimSpace(string(body)), nil
	}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var segments []transcriptSegment
		if err := json.Unmarshal(body, &segments); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		return joinSegments(segments), nil
	}

	var doc struct {
		Text       string              `json:"text"`
		Transcript string              `json:"transcript"`
		Segments   []transcriptSegment `json:"segments"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	switch {
	case doc.Transcript != "":
		return strings.TrimSpace(doc.Transcript), nil
	case doc.Text != "":
		return strings.TrimSpace(doc.Text), nil
	default:
		return joinSegments(doc.Segments), nil
	}
}

func joinSegments(segments []transcriptSegment) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		if text := strings.TrimSpace(s.Text); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

var _ TranscriptProvider = (*HTTPProvider)(nil)

