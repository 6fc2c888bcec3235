package domain

import (
	"context"
	"time"
)

// RouteAudit is one routing decision recorded in the audit trail.
type RouteAudit struct {
	ID        int64
	Tool      string
	Risk      string
	Route     string // local | approval | remote
	ClientID  string
	CommandID string
	Outcome   string // ok | timeout | error | no_client | pending_approval
	Details   string
	CreatedAt time.Time
}

// AuditLogger persists routing decisions. Implementations must never
// block the routing path for long; failures are logged and dropped.
type AuditLogger interface {
	LogRoute(ctx context.Context, entry RouteAudit) error
}
