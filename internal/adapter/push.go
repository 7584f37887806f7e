package adapter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/model"
)

const minDeviceTokenLength = 8

// PushAdapter sends push notifications through an external push provider
// endpoint.
type PushAdapter struct {
	providerClient
}

func NewPushAdapter(url string, timeout time.Duration, logger *zap.Logger) *PushAdapter {
	return &PushAdapter{
		providerClient: newProviderClient(model.ChannelPush, url, timeout, logger),
	}
}

func (a *PushAdapter) Channel() model.Channel {
	return model.ChannelPush
}

func (a *PushAdapter) Deliver(ctx context.Context, n *model.Notification) (bool, error) {
	token := n.Param("deviceToken")
	if token == "" {
		return false, fmt.Errorf("%w: missing device token in template params for notification %s", ErrInvalidPayload, n.ID)
	}
	if len(token) < minDeviceTokenLength {
		return false, fmt.Errorf("%w: device token too short for notification %s", ErrInvalidPayload, n.ID)
	}

	title := n.Param("title")
	if title == "" {
		title = "Notification"
	}

	a.logger.Info("Sending push notification",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("template_id", n.TemplateID),
	)

	body := map[string]any{
		"token":    token,
		"title":    title,
		"body":     n.Param("body"),
		"template": n.TemplateID,
		"params":   n.TemplateParams,
	}
	if err := a.post(ctx, body); err != nil {
		return false, err
	}

	return true, nil
}
