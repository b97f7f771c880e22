package consent

import (
	"context"

	"github.com/casefront/outbound/internal/service/models/message"
)

// Status of the most recent consent record for a dossier and channel.
type Status string

const (
	StatusGranted Status = "GRANTED"
	StatusDenied  Status = "DENIED"
	StatusRevoked Status = "REVOKED"
	// StatusUnknown means no consent record exists at all; intake treats it
	// the same as a denial.
	StatusUnknown Status = "UNKNOWN"
)

// Lookup resolves the latest consent status for a dossier on a channel.
// Consent storage is owned by the surrounding application; this pipeline
// only consumes the answer.
type Lookup interface {
	LatestConsent(ctx context.Context, dossierID int64, ch message.Channel) (Status, error)
}

// StaticLookup is a map-backed Lookup for development wiring and tests.
type StaticLookup struct {
	Grants map[int64][]message.Channel
}

// LatestConsent implements Lookup.
func (s *StaticLookup) LatestConsent(_ context.Context, dossierID int64, ch message.Channel) (Status, error) {
	for _, granted := range s.Grants[dossierID] {
		if granted == ch {
			return StatusGranted, nil
		}
	}

	return StatusUnknown, nil
}
