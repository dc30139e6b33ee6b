package initiative

import (
	"encoding/json"
	"strings"

	"github.com/confabhq/confab/internal/util"
)

// Actions an agent can choose in an initiation decision.
const (
	ActionContinue = "continue"
	ActionInitiate = "initiate"
	ActionNothing  = "nothing"
)

// rawClip bounds the copy of an unparseable reply carried into the audit
// payload.
const rawClip = 512

// decision is the structured verdict an agent returns from the initiation
// prompt. Raw is only set when parsing failed and holds a clipped copy of
// the reply for the audit trail.
type decision struct {
	Action         string   `json:"action"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Topic          string   `json:"topic,omitempty"`
	Message        string   `json:"message,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	InviteAgents   []string `json:"invite_agents,omitempty"`

	Raw string `json:"-"`
}

// parseDecision recovers a decision from a model reply: strict JSON first,
// then the first balanced JSON object found anywhere in the text. Anything
// else, including a recognizable object with an unknown action, degrades to
// a "nothing" decision carrying a clipped copy of the reply. A malformed
// reply therefore never aborts a sweep.
func parseDecision(raw string) (decision, bool) {
	cleaned := strings.TrimSpace(util.StripCodeFences(raw))
	if cleaned == "" {
		return fallbackDecision(raw), false
	}

	var d decision
	decoded := json.Unmarshal([]byte(cleaned), &d) == nil
	if !decoded {
		if obj, found := util.FirstJSONObject(cleaned); found {
			decoded = json.Unmarshal([]byte(obj), &d) == nil
		}
	}

	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	if !decoded || !validAction(d.Action) {
		return fallbackDecision(raw), false
	}
	return d, true
}

func validAction(action string) bool {
	switch action {
	case ActionContinue, ActionInitiate, ActionNothing:
		return true
	}
	return false
}

func fallbackDecision(raw string) decision {
	return decision{
		Action: ActionNothing,
		Reason: "could not extract a decision from the model reply",
		Raw:    util.Truncate(raw, rawClip),
	}
}

// payload renders the decision into an audit payload. Only fields the model
// actually supplied are carried.
func (d decision) payload() map[string]any {
	p := map[string]any{"action": d.Action}
	if d.Reason != "" {
		p["reason"] = d.Reason
	}
	if d.ConversationID != "" {
		p["conversation_id"] = d.ConversationID
	}
	if d.Topic != "" {
		p["topic"] = d.Topic
	}
	if d.Message != "" {
		p["message"] = d.Message
	}
	if len(d.InviteAgents) > 0 {
		p["invite_agents"] = append([]string(nil), d.InviteAgents...)
	}
	if d.Raw != "" {
		p["raw"] = d.Raw
	}
	return p
}
