package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing.
type EventCategory string

const (
	// CategoryCompliance covers value movements and irreversible state changes
	// that must be reconstructable later: submitted transfers, migrations.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers provenance rejections and refused operator
	// requests. These feed alerting.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from gate components to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject is the asset identifier the action concerns.
	Subject  string
	Action   string
	Decision string
	Reason   string
	// Reference links the event to a ledger artifact: a transaction hash or
	// an envelope content id.
	Reference string
	RequestID string
	// ActorID is the operator subject for actions requested over the ops API.
	ActorID string
}

type AuditEvent string

const (
	// Provenance events
	EventAssetTainted      AuditEvent = "asset_tainted"
	EventRejectionRecorded AuditEvent = "rejection_recorded"

	// Transfer events
	EventTransferSubmitted AuditEvent = "transfer_submitted"
	EventTransferSkipped   AuditEvent = "transfer_skipped"
	EventTransferFailed    AuditEvent = "transfer_failed"

	// Migration events
	EventMigrationCompleted AuditEvent = "migration_completed"
	EventMigrationDeferred  AuditEvent = "migration_deferred"

	// Operator events
	EventOperatorRequest AuditEvent = "operator_request"
	EventOperatorDenied  AuditEvent = "operator_denied"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventTransferSubmitted:  CategoryCompliance,
	EventMigrationCompleted: CategoryCompliance,
	EventRejectionRecorded:  CategoryCompliance,

	EventAssetTainted:    CategorySecurity,
	EventTransferSkipped: CategorySecurity,
	EventOperatorDenied:  CategorySecurity,

	EventTransferFailed:    CategoryOperations,
	EventMigrationDeferred: CategoryOperations,
	EventOperatorRequest:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Emitter is the narrow interface gate components depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
