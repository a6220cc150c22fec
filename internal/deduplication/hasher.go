package deduplication

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"ytindexer/internal/constants"
	"ytindexer/pkg/models"
)

// Hasher turns an update fingerprint into a dedup key.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

func (h *Hasher) Sum(input string) string {
	switch h.algorithm {
	case "sha256":
		sum := sha256.Sum256([]byte(input))
		return hex.EncodeToString(sum[:])
	case "sha1":
		sum := sha1.Sum([]byte(input))
		return hex.EncodeToString(sum[:])
	default:
		sum := md5.Sum([]byte(input))
		return hex.EncodeToString(sum[:])
	}
}

// Key returns the dedup key for update. When update carries no identity the raw
// payload is hashed instead.
func (h *Hasher) Key(update *models.VideoUpdate, raw []byte) string {
	return constants.CacheKeyPrefixDedup + h.Sum(Fingerprint(update, raw))
}

// Fingerprint identifies one revision of a video: videoId|channelId|updatedAt for
// content and videoId|deleted|when for deletions.
func Fingerprint(update *models.VideoUpdate, raw []byte) string {
	if update == nil || update.VideoID == "" {
		return string(raw)
	}

	parts := []string{update.VideoID}
	if update.IsDeletion {
		parts = append(parts, "deleted")
	} else {
		parts = append(parts, update.ChannelID)
	}
	if !update.UpdatedAt.IsZero() {
		parts = append(parts, update.UpdatedAt.UTC().Format(time.RFC3339Nano))
	} else {
		parts = append(parts, "")
	}
	return strings.Join(parts, "|")
}
