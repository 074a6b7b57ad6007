package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

const smtpSendTimeout = 30 * time.Second

// SMTPConfig is the plain-auth SMTP relay fallback transport config.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPTransport delivers through a conventional SMTP relay. It exists
// so deployments without Google credentials still get alerts.
type SMTPTransport struct {
	cfg  SMTPConfig
	auth smtp.Auth
}

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, errors.New("smtp transport: host and port are required")
	}
	return &SMTPTransport{
		cfg:  cfg,
		auth: smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host),
	}, nil
}

func (s *SMTPTransport) Name() string { return "smtp" }

// Send blocks for at most smtpSendTimeout. net/smtp has no context
// support, so the send runs in a goroutine and the timeout abandons it.
func (s *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	raw, err := BuildMIMEMessage(msg)
	if err != nil {
		return &TransportError{Kind: ErrKindOther, Err: err}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, s.auth, msg.From, []string{msg.To}, raw)
	}()

	timer := time.NewTimer(smtpSendTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return classifySMTPError(err)
		}
		return nil
	case <-ctx.Done():
		return &TransportError{Kind: ErrKindTimeout, Err: ctx.Err()}
	case <-timer.C:
		return &TransportError{Kind: ErrKindTimeout, Err: fmt.Errorf("smtp send to %s timed out", addr)}
	}
}

func classifySMTPError(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TransportError{Kind: ErrKindTimeout, Err: err}
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "535") || strings.Contains(lower, "auth"):
		return &TransportError{Kind: ErrKindAuth, Err: err}
	case strings.Contains(lower, "552") || strings.Contains(lower, "size"):
		return &TransportError{Kind: ErrKindTooLarge, Err: err}
	case strings.Contains(lower, "connection") || strings.Contains(lower, "refused"):
		return &TransportError{Kind: ErrKindConnection, Err: err}
	}
	return &TransportError{Kind: ErrKindOther, Err: err}
}
