package jobs

import (
	"errors"
	"time"
)

// Job statuses. A job is terminal once it reaches completed,
// completed_cached, or error. Delivery failure is an overlay on the
// outcome, not a status of its own.
const (
	StatusPending         = "pending"
	StatusProcessing      = "processing"
	StatusCompleted       = "completed"
	StatusCompletedCached = "completed_cached"
	StatusError           = "error"
)

// ErrNotFound is returned when a job ID has no ledger row.
var ErrNotFound = errors.New("job not found")

// Job is one unit of analysis work and its durable outcome.
type Job struct {
	ID             string
	UserID         string
	PlatformUserID string
	ContentType    string
	Fingerprint    string
	MediaURL       string
	StorageKey     string
	InputText      string
	Status         string
	ConversationID string
	LastMessage    string
	ProviderMeta   map[string]any
	ErrorMessage   string
	DeliveryFailed bool
	DeliveryError  string
	CacheHit       bool
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the job has reached a final status.
func (j Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusCompletedCached, StatusError:
		return true
	}
	return false
}

// Patch is a merge update: only non-nil fields are written, everything
// else on the row is left untouched.
type Patch struct {
	Status         *string
	ConversationID *string
	LastMessage    *string
	ProviderMeta   map[string]any
	ErrorMessage   *string
	DeliveryFailed *bool
	DeliveryError  *string
	CacheHit       *bool
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Apply merges the patch into the job in place.
func (j *Job) Apply(p Patch) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.ConversationID != nil {
		j.ConversationID = *p.ConversationID
	}
	if p.LastMessage != nil {
		j.LastMessage = *p.LastMessage
	}
	if p.ProviderMeta != nil {
		j.ProviderMeta = p.ProviderMeta
	}
	if p.ErrorMessage != nil {
		j.ErrorMessage = *p.ErrorMessage
	}
	if p.DeliveryFailed != nil {
		j.DeliveryFailed = *p.DeliveryFailed
	}
	if p.DeliveryError != nil {
		j.DeliveryError = *p.DeliveryError
	}
	if p.CacheHit != nil {
		j.CacheHit = *p.CacheHit
	}
	if p.StartedAt != nil {
		j.StartedAt = p.StartedAt
	}
	if p.CompletedAt != nil {
		j.CompletedAt = p.CompletedAt
	}
}

func ptr[T any](v T) *T { return &v }
