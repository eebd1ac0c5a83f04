package delivery

import (
	"context"
	"fmt"

	"coach-backend/internal/shared/metrics"
	"coach-backend/internal/shared/telemetry"
)

// Messenger sends text messages back to the platform.
type Messenger interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, userID, text string) error
}

// Channel delivers one message per call: reply first while the token is
// usable, push as the fallback. Callers run exactly one Send per job.
type Channel struct {
	messenger Messenger
}

// NewChannel wraps a Messenger.
func NewChannel(m Messenger) *Channel {
	return &Channel{messenger: m}
}

// Send delivers text to the user and reports the method used, "reply"
// or "push". It returns an error only when every usable route failed.
func (c *Channel) Send(ctx context.Context, replyToken, userID, text string) (string, error) {
	var replyErr error
	if VerifyReplyToken(replyToken) {
		replyErr = c.messenger.Reply(ctx, replyToken, text)
		if replyErr == nil {
			return "reply", nil
		}
		telemetry.Warn("delivery.reply_failed", map[string]any{
			"platform_user_id": userID,
			"error":            replyErr.Error(),
		})
	}

	if !IsLikelyValidUserID(userID) {
		metrics.IncDeliveryFailed()
		if replyErr != nil {
			return "", fmt.Errorf("reply failed and no push target: %w", replyErr)
		}
		return "", fmt.Errorf("no usable delivery route for user %q", userID)
	}

	if replyErr != nil {
		metrics.IncDeliveryFallback()
	}
	if err := c.messenger.Push(ctx, userID, text); err != nil {
		metrics.IncDeliveryFailed()
		return "", fmt.Errorf("push failed: %w", err)
	}
	return "push", nil
}
