package adapter

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/model"
)

// E.164-ish: optional +, leading non-zero digit, up to 15 digits.
var phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// SMSAdapter sends SMS notifications through an external SMS provider
// endpoint.
type SMSAdapter struct {
	providerClient
}

func NewSMSAdapter(url string, timeout time.Duration, logger *zap.Logger) *SMSAdapter {
	return &SMSAdapter{
		providerClient: newProviderClient(model.ChannelSMS, url, timeout, logger),
	}
}

func (a *SMSAdapter) Channel() model.Channel {
	return model.ChannelSMS
}

func (a *SMSAdapter) Deliver(ctx context.Context, n *model.Notification) (bool, error) {
	phone := n.Param("phone")
	if phone == "" {
		return false, fmt.Errorf("%w: missing phone number in template params for notification %s", ErrInvalidPayload, n.ID)
	}
	if !phoneRegex.MatchString(phone) {
		return false, fmt.Errorf("%w: invalid phone number format for notification %s", ErrInvalidPayload, n.ID)
	}

	message := n.Param("message")
	if message == "" {
		message = "Notification for template: " + n.TemplateID
	}

	a.logger.Info("Sending SMS notification",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("template_id", n.TemplateID),
	)

	body := map[string]any{
		"to":       phone,
		"message":  message,
		"template": n.TemplateID,
		"params":   n.TemplateParams,
	}
	if err := a.post(ctx, body); err != nil {
		return false, err
	}

	return true, nil
}
