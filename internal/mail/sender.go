// ABOUTME: Mail delivery over SMTP or to the log
// ABOUTME: SMTPSender uses PLAIN auth when credentials are configured

package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
)

// Sender delivers outbound email.
type Sender interface {
	Send(ctx context.Context, msg *Outgoing) error
}

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string

	// sendMail is smtp.SendMail; replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a sender for host:port.
func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	return &SMTPSender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		sendMail: smtp.SendMail,
	}
}

// Send composes msg and hands it to the relay. smtp.SendMail has no context
// support, so a cancelled ctx only stops the wait.
func (s *SMTPSender) Send(ctx context.Context, msg *Outgoing) error {
	data, err := Compose(msg)
	if err != nil {
		return fmt.Errorf("composing message: %w", err)
	}

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))

	sendMail := s.sendMail
	if sendMail == nil {
		sendMail = smtp.SendMail
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- sendMail(addr, auth, msg.From, []string{msg.To}, data)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("sending via %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender logs messages instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. Pass nil logger for default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("component", "mail")}
}

// Send validates msg by composing it, then logs it.
func (s *LogSender) Send(_ context.Context, msg *Outgoing) error {
	if _, err := Compose(msg); err != nil {
		return fmt.Errorf("composing message: %w", err)
	}
	s.logger.Info("=== MAIL NOT DELIVERED (no SMTP host) ===",
		"to", msg.To,
		"subject", msg.Subject,
		"message_id", msg.MessageID,
		"content_type", msg.ContentType)
	return nil
}
