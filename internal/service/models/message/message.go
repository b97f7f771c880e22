package message

import (
	"fmt"
	"time"
)

// Channel identifies the delivery channel of an outbound message.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelPhone    Channel = "PHONE"
)

// ParseChannel converts a string into a known Channel.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPhone:
		return Channel(s), nil
	}

	return "", fmt.Errorf("unknown channel: %q", s)
}

// RequiresConsent reports whether intake must verify consent for the channel
// when the message is tied to a dossier.
func (c Channel) RequiresConsent() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPhone:
		return true
	}

	return false
}

// Status is the lifecycle state of an outbound message.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusSending Status = "SENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether the status is absorbing; nothing transitions out
// of SENT or FAILED.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// OutboundMessage is one logical send request. Rows are created by intake
// with status QUEUED and mutated only by the delivery worker afterwards;
// they are never deleted by this service.
type OutboundMessage struct {
	ID                int64
	OrgID             int64
	IdempotencyKey    string
	Channel           Channel
	To                string
	DossierID         *int64
	TemplateCode      string
	Subject           string
	Payload           map[string]string
	Status            Status
	AttemptCount      int
	MaxAttempts       int
	ErrorCode         string
	ErrorMessage      string
	ProviderMessageID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AttemptsLeft reports whether another dispatch is still allowed.
func (m *OutboundMessage) AttemptsLeft() bool {
	return m.AttemptCount < m.MaxAttempts
}
