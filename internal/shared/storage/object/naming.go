package object

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// NamespaceKey derives the per-user directory component of a storage
// key. Platform user IDs are hashed so stored paths never expose them.
func NamespaceKey(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}

// CleanFileName normalizes an inbound media file name for use inside a
// storage key. Traversal patterns are rejected outright; separators are
// flattened since the message ID based names carry no real hierarchy.
func CleanFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}
