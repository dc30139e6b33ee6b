package core

import "time"

// Audit action kinds recorded by the initiation decision engine. Exactly one
// entry is written per decision outcome, including skips.
const (
	AuditInitiationContinue = "initiation.continue"
	AuditInitiationInitiate = "initiation.initiate"
	AuditInitiationNothing  = "initiation.nothing"
	AuditInitiationSkipped  = "initiation.skipped"
)

// AuditEntry is an immutable record of a decision or outcome. Entries are
// created once and never mutated. AccountID is denormalized from the agent to
// keep activity-window queries single-table.
type AuditEntry struct {
	ID        string
	AgentID   string
	AccountID string
	Action    string
	Payload   map[string]any
	CreatedAt time.Time
}

// NewAuditEntry creates an audit entry with a fresh entity id.
func NewAuditEntry(agentID, accountID, action string, payload map[string]any) *AuditEntry {
	return &AuditEntry{
		ID:        NewULID(),
		AgentID:   agentID,
		AccountID: accountID,
		Action:    action,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a copy so callers can mutate the result without affecting
// store-held state.
func (e *AuditEntry) Clone() *AuditEntry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}
