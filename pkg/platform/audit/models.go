package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers validation outcomes and ledger authorizations.
	// These require tamper-evident storage and long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected admin access and signer mismatches.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers model swaps and other routine activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string        `json:"id"`
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	ProjectID int64         `json:"project_id,omitempty"`
	Action    string        `json:"action"`
	Decision  string        `json:"decision,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	// ContentHash is the attestation content hash when one was produced.
	ContentHash    string `json:"content_hash,omitempty"`
	ContentAddress string `json:"content_address,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
	// Signer is the validator address that signed the attestation.
	Signer    string `json:"signer,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	// ClientAgent is a normalized "browser/os" or "bot:name" string.
	ClientAgent string `json:"client_agent,omitempty"`
}

type AuditEvent string

const (
	EventProjectValidated      AuditEvent = "project_validated"
	EventLedgerAuthorized      AuditEvent = "ledger_authorized"
	EventLedgerAuthorizeFailed AuditEvent = "ledger_authorize_failed"
	EventModelUpdated          AuditEvent = "model_updated"
	EventAdminAuthFailed       AuditEvent = "admin_auth_failed"
	EventSignerRoleMissing     AuditEvent = "signer_role_missing"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventProjectValidated:      CategoryCompliance,
	EventLedgerAuthorized:      CategoryCompliance,
	EventLedgerAuthorizeFailed: CategoryCompliance,

	EventAdminAuthFailed:   CategorySecurity,
	EventSignerRoleMissing: CategorySecurity,

	EventModelUpdated: CategoryOperations,
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
}
