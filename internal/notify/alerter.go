package notify

import (
	"context"
	"log/slog"
)

// Alerter raises operational alerts to the configured operator address.
// Alerts are fire-and-forget: a failed send is logged, never retried,
// and never deduplicated.
type Alerter struct {
	notifier Notifier
	to       string
	logger   *slog.Logger
}

func NewAlerter(notifier Notifier, to string, logger *slog.Logger) *Alerter {
	return &Alerter{notifier: notifier, to: to, logger: logger}
}

func (a *Alerter) Alert(ctx context.Context, subject, body string) {
	if a.to == "" {
		a.logger.Debug("no operator address configured, dropping alert", "subject", subject)
		return
	}
	if err := a.notifier.Send(ctx, Message{To: a.to, Subject: subject, Body: body}); err != nil {
		a.logger.Error("send operator alert", "subject", subject, "error", err)
	}
}
