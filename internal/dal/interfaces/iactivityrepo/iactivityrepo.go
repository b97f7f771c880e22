package iactivityrepo

import "context"

// Entry is one dossier timeline activity, e.g. a "message sent" line shown
// to case workers.
type Entry struct {
	DossierID   int64
	Type        string
	Description string
	Metadata    map[string]string
}

// IActivityRepository records business activities on a dossier timeline.
type IActivityRepository interface {
	// LogActivity records a single activity.
	LogActivity(ctx context.Context, dossierID int64, activityType, description string, metadata map[string]string) error

	// LogActivities records a batch of activities collected during one
	// worker pass.
	LogActivities(ctx context.Context, entries []Entry) error
}
