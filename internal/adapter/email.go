package adapter

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/model"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9_!#$%&'*+/=?` + "`" + `{|}~^.-]+@[a-zA-Z0-9.-]+$`)

const maxSubjectLength = 255

// EmailAdapter sends email notifications through an external email
// provider endpoint.
type EmailAdapter struct {
	providerClient
}

func NewEmailAdapter(url string, timeout time.Duration, logger *zap.Logger) *EmailAdapter {
	return &EmailAdapter{
		providerClient: newProviderClient(model.ChannelEmail, url, timeout, logger),
	}
}

func (a *EmailAdapter) Channel() model.Channel {
	return model.ChannelEmail
}

// Deliver validates the address structurally, then posts to the
// provider. A subject over 255 chars is truncated, not rejected.
func (a *EmailAdapter) Deliver(ctx context.Context, n *model.Notification) (bool, error) {
	email := n.Param("email")
	if email == "" {
		return false, fmt.Errorf("%w: missing email address in template params for notification %s", ErrInvalidPayload, n.ID)
	}
	if !emailRegex.MatchString(email) {
		return false, fmt.Errorf("%w: invalid email address format for notification %s", ErrInvalidPayload, n.ID)
	}

	subject := n.Param("subject")
	if subject == "" {
		subject = "Notification: " + n.TemplateID
	}
	// Truncate on rune boundaries so a multi-byte character is never
	// split into invalid UTF-8.
	if runes := []rune(subject); len(runes) > maxSubjectLength {
		a.logger.Warn("Email subject exceeds maximum length, truncating",
			zap.String("notification_id", n.ID),
			zap.Int("length", len(runes)),
		)
		subject = string(runes[:maxSubjectLength])
	}

	content := n.Param("content")
	if content == "" {
		content = "Notification details for template: " + n.TemplateID
	}

	a.logger.Info("Sending email notification",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("template_id", n.TemplateID),
	)

	body := map[string]any{
		"to":       email,
		"subject":  subject,
		"content":  content,
		"template": n.TemplateID,
		"params":   n.TemplateParams,
	}
	if err := a.post(ctx, body); err != nil {
		return false, err
	}

	return true, nil
}
