package mailgate

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// SMTPRelay submits email through the configured SMTP relay. The tenant's
// api_key doubles as the relay password; the sender identity is the
// authenticated account.
type SMTPRelay struct {
	addr string
}

// NewSMTPRelay creates the production relay from config.
func NewSMTPRelay() *SMTPRelay {
	return &SMTPRelay{
		addr: viper.GetString("providers.email.smtp_addr"),
	}
}

// Submit implements Relay.
func (s *SMTPRelay) Submit(ctx context.Context, apiKey, from, to, subject, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &RelayError{Code: CodeRelayUnavailable, Message: "relay call canceled"}
	}

	host := s.addr
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body)
	auth := smtp.PlainAuth("", from, apiKey, host)

	if err := smtp.SendMail(s.addr, auth, from, []string{to}, []byte(msg)); err != nil {
		code := CodeRelayUnavailable
		text := err.Error()
		switch {
		case strings.Contains(text, "535"):
			code = CodeAuthFailed
		case strings.Contains(text, "550"):
			code = CodeMailboxRejected
		}

		return "", &RelayError{Code: code, Message: text}
	}

	// SMTP has no provider message id; mint one so downstream bookkeeping
	// stays uniform across channels.
	return uuid.NewString(), nil
}
