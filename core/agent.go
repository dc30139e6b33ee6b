package core

import "time"

// Agent is a configured persona bound to a model id. Agents are managed
// externally (account settings); the turn and memory subsystems treat them as
// read-only apart from refinement bookkeeping on RefinedAt.
type Agent struct {
	ID        string
	AccountID string
	Name      string
	Persona   string
	ModelID   string

	// ThinkingBudget, when non-nil, requests extended reasoning with the
	// given token budget on every turn.
	ThinkingBudget *int

	EnabledTools  []string
	InitiationCap int
	RefinedAt     *time.Time
	Active        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAgent creates an active agent with a fresh entity id.
func NewAgent(accountID, name, modelID string) *Agent {
	now := time.Now().UTC()
	return &Agent{
		ID:        NewULID(),
		AccountID: accountID,
		Name:      name,
		ModelID:   modelID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers can mutate the result without
// affecting store-held state.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.EnabledTools = append([]string(nil), a.EnabledTools...)
	if a.ThinkingBudget != nil {
		b := *a.ThinkingBudget
		cp.ThinkingBudget = &b
	}
	if a.RefinedAt != nil {
		t := *a.RefinedAt
		cp.RefinedAt = &t
	}
	return &cp
}
