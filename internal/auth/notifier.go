package auth

import (
	"context"
	"net/url"

	"property-portal/internal/observability"
)

// Notifier delivers one-time links to account owners.
type Notifier interface {
	SendEmailVerification(ctx context.Context, to, token string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// LogNotifier writes notifications to the structured log. Links are only
// included outside production, where no mail transport is configured.
type LogNotifier struct {
	logger      *observability.Logger
	baseURL     string
	exposeLinks bool
}

func NewLogNotifier(logger *observability.Logger, baseURL string, exposeLinks bool) *LogNotifier {
	return &LogNotifier{logger: logger, baseURL: baseURL, exposeLinks: exposeLinks}
}

func (n *LogNotifier) SendEmailVerification(_ context.Context, to, token string) error {
	n.send("email_verification_requested", to, "/verify-email", token)
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, to, token string) error {
	n.send("password_reset_requested", to, "/reset-password", token)
	return nil
}

func (n *LogNotifier) send(event, to, path, token string) {
	fields := map[string]any{"to": observability.MaskEmail(to)}
	if n.exposeLinks {
		fields["link"] = n.baseURL + path + "?token=" + url.QueryEscape(token)
	}
	n.logger.Info(event, fields)
}
