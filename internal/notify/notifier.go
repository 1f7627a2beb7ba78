package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Message is one outbound mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers a composed message to its recipient.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type smtpNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier sends messages through a plain SMTP relay. Auth is
// skipped when no username is configured, which matches local relays.
func NewSMTPNotifier(cfg SMTPConfig) Notifier {
	return &smtpNotifier{cfg: cfg}
}

func (n *smtpNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

type logNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier logs messages instead of sending them. Used in
// development where no relay is configured.
func NewLogNotifier(logger *slog.Logger) Notifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.Info("notification (log sink)",
		"to", msg.To,
		"subject", msg.Subject)
	return nil
}
