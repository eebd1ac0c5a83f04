package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Payload is the cached outcome of one analysis, sufficient to answer an
// identical request without calling the provider again.
type Payload struct {
	FinalMessage   string         `json:"final_message"`
	ConversationID string         `json:"conversation_id,omitempty"`
	ProviderMeta   map[string]any `json:"provider_meta,omitempty"`
}

// Store is a fingerprint-keyed response cache with per-entry expiry.
// Get returns ok=false for absent or expired entries.
type Store interface {
	Get(ctx context.Context, key string) (Payload, bool, error)
	Put(ctx context.Context, key string, payload Payload, ttl time.Duration) error
}

// Key derives the cache fingerprint for one piece of content. The kind
// prefix keeps a video and an image with the same canonical input from
// colliding; the conversation id scopes repeats to their conversation
// and is usually empty for fresh requests.
func Key(kind, conversationID, canonicalInput string) string {
	sum := sha256.Sum256([]byte(kind + ":" + conversationID + ":" + canonicalInput))
	return hex.EncodeToString(sum[:])
}
