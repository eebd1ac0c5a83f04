package analysis

import (
	"context"
	"errors"
)

// Request describes one analysis to run against the provider.
type Request struct {
	Query          string
	UserID         string
	ConversationID string
	MediaURL       string
	MediaType      string
	Inputs         map[string]string
}

// Answer is the provider's reply.
type Answer struct {
	Text           string
	ConversationID string
	Meta           map[string]any
}

// Client abstracts the analysis provider.
type Client interface {
	Analyze(ctx context.Context, req Request) (Answer, error)
}

// ErrOverloaded signals that the provider was transiently unavailable
// for every attempt. Callers reply with the overload fallback instead
// of treating this as a hard failure.
var ErrOverloaded = errors.New("analysis provider overloaded")
