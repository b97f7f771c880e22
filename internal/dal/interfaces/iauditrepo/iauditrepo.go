package iauditrepo

import "context"

// IAuditRepository records immutable audit events. The audit trail itself is
// owned by the surrounding application; this pipeline only emits into it.
type IAuditRepository interface {
	LogEvent(ctx context.Context, entityType string, entityID int64, action, description string) error
}
