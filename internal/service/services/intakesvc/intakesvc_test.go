package intakesvc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casefront/outbound/internal/consent"
	"github.com/casefront/outbound/internal/dal/interfaces/imessagerepo"
	"github.com/casefront/outbound/internal/service/models/message"
)

// fakeMessageRepo implements only what intake touches; the embedded
// interface panics on anything else.
type fakeMessageRepo struct {
	imessagerepo.IMessageRepository

	mu       sync.Mutex
	messages []message.OutboundMessage
}

func (r *fakeMessageRepo) Insert(_ context.Context, msg message.OutboundMessage) (message.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = int64(len(r.messages) + 1)
	r.messages = append(r.messages, msg)
	return msg, nil
}

func (r *fakeMessageRepo) GetByIdempotencyKey(_ context.Context, orgID int64, key string) (*message.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].OrgID == orgID && r.messages[i].IdempotencyKey == key {
			return &r.messages[i], nil
		}
	}
	return nil, nil
}

type fakeAuditRepo struct {
	mu     sync.Mutex
	events int
}

func (r *fakeAuditRepo) LogEvent(context.Context, string, int64, string, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events++
	return nil
}

func newService(repo *fakeMessageRepo, consents consent.Lookup) *IntakeService {
	return MustNewIntakeService(
		WithMessageRepository(repo),
		WithAuditRepository(&fakeAuditRepo{}),
		WithConsentLookup(consents),
	)
}

func smsRequest() SubmitRequest {
	return SubmitRequest{
		OrgID:          7,
		Channel:        message.ChannelSMS,
		To:             "+31612345678",
		Payload:        map[string]string{"body": "hello"},
		IdempotencyKey: "key-1",
	}
}

func TestSubmitEnqueuesMessage(t *testing.T) {
	repo := &fakeMessageRepo{}
	svc := newService(repo, &consent.StaticLookup{})

	msg, err := svc.Submit(context.Background(), smsRequest())
	require.NoError(t, err)

	require.Equal(t, message.StatusQueued, msg.Status)
	require.Equal(t, 0, msg.AttemptCount)
	require.Equal(t, 5, msg.MaxAttempts)
	require.WithinDuration(t, time.Now(), msg.CreatedAt, time.Second)
	require.Len(t, repo.messages, 1)
}

func TestSubmitIsIdempotent(t *testing.T) {
	repo := &fakeMessageRepo{}
	svc := newService(repo, &consent.StaticLookup{})

	first, err := svc.Submit(context.Background(), smsRequest())
	require.NoError(t, err)

	// Same key, different payload: the stored message wins, no new row.
	replay := smsRequest()
	replay.Payload = map[string]string{"body": "something else entirely"}
	second, err := svc.Submit(context.Background(), replay)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "hello", second.Payload["body"])
	require.Len(t, repo.messages, 1)
}

func TestSubmitGeneratesIdempotencyKey(t *testing.T) {
	repo := &fakeMessageRepo{}
	svc := newService(repo, &consent.StaticLookup{})

	req := smsRequest()
	req.IdempotencyKey = ""
	msg, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, msg.IdempotencyKey)

	req2 := smsRequest()
	req2.IdempotencyKey = ""
	msg2, err := svc.Submit(context.Background(), req2)
	require.NoError(t, err)
	require.NotEqual(t, msg.IdempotencyKey, msg2.IdempotencyKey)
}

func TestSubmitRequiresConsentForDossierMessages(t *testing.T) {
	repo := &fakeMessageRepo{}
	svc := newService(repo, &consent.StaticLookup{})

	dossier := int64(42)
	req := smsRequest()
	req.Channel = message.ChannelEmail
	req.To = "case@worker.example"
	req.DossierID = &dossier

	_, err := svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, ErrConsentRequired)
	require.Empty(t, repo.messages)
}

func TestSubmitAllowsGrantedConsent(t *testing.T) {
	repo := &fakeMessageRepo{}
	svc := newService(repo, &consent.StaticLookup{
		Grants: map[int64][]message.Channel{42: {message.ChannelSMS}},
	})

	dossier := int64(42)
	req := smsRequest()
	req.DossierID = &dossier

	msg, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, message.StatusQueued, msg.Status)
}

func TestSubmitValidation(t *testing.T) {
	svc := newService(&fakeMessageRepo{}, &consent.StaticLookup{})

	cases := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"missing org", func(r *SubmitRequest) { r.OrgID = 0 }},
		{"missing recipient", func(r *SubmitRequest) { r.To = "" }},
		{"unknown channel", func(r *SubmitRequest) { r.Channel = "PIGEON" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := smsRequest()
			tc.mutate(&req)

			_, err := svc.Submit(context.Background(), req)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}
}
