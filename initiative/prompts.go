package initiative

import (
	"fmt"
	"strings"
	"time"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/internal/util"
)

// decisionTemplate renders the initiation instructions. The situation
// briefing travels as the user message.
const decisionTemplate = `You are {{.Name}}.

{{.Persona}}

It is {{.Now}}. Nobody has asked you anything; you have a quiet moment to decide whether to reach out on your own.

You can do exactly one of three things:
- "continue": pick a listed conversation back up because something was left genuinely unresolved.
- "initiate": start a new conversation about something worth raising now.
- "nothing": stay quiet. This is the right choice most of the time.

Reply with a single JSON object and nothing else, in one of these shapes:
{"action": "continue", "conversation_id": "...", "reason": "..."}
{"action": "initiate", "topic": "...", "message": "...", "invite_agents": ["..."], "reason": "..."}
{"action": "nothing", "reason": "..."}`

// briefing is the per-agent situation summary offered with the decision
// prompt.
type briefing struct {
	Continuable []*core.Chat
	Initiations []*core.AuditEntry
	Humans      []*core.Message
	Titles      map[string]string
}

// render builds the user-message text. Empty sections are stated explicitly
// so the model never has to guess whether information was withheld.
func (b briefing) render(now time.Time) string {
	var sb strings.Builder

	sb.WriteString("Conversations you could continue:\n")
	if len(b.Continuable) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, chat := range b.Continuable {
		fmt.Fprintf(&sb, "- [id %s] %q, quiet for %s", chat.ID, chat.Title, humanDuration(now.Sub(chat.UpdatedAt)))
		if chat.PendingHumanReply {
			sb.WriteString(", still awaiting a human reply")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nConversations you started recently:\n")
	if len(b.Initiations) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, entry := range b.Initiations {
		fmt.Fprintf(&sb, "- %s ago: %q", humanDuration(now.Sub(entry.CreatedAt)), payloadString(entry.Payload, "topic"))
		if reason := payloadString(entry.Payload, "reason"); reason != "" {
			fmt.Fprintf(&sb, " because %s", reason)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nRecent human activity:\n")
	if len(b.Humans) == 0 {
		sb.WriteString("(none in the activity window)\n")
	}
	for _, msg := range b.Humans {
		fmt.Fprintf(&sb, "- %s ago", humanDuration(now.Sub(msg.CreatedAt)))
		if title, ok := b.Titles[msg.ChatID]; ok {
			fmt.Fprintf(&sb, " in %q", title)
		}
		fmt.Fprintf(&sb, ": %s\n", util.Truncate(msg.Content, humanClip))
	}

	return sb.String()
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

// humanDuration renders a duration at the coarse granularity the briefing
// needs.
func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
