package core

import "time"

// Broadcast event kinds published on chat topics for live UI updates.
const (
	BroadcastMessageDelta   = "message.delta"
	BroadcastReasoningDelta = "message.reasoning"
	BroadcastToolStatus     = "tool.status"
	BroadcastMessageFinal   = "message.finalized"
	BroadcastTurnError      = "turn.error"
	BroadcastDecisionNotice = "decision.notice"
)

// BroadcastEvent is one live-update notification. Delivery is best-effort:
// subscribers that fall behind miss events rather than block publishers.
type BroadcastEvent struct {
	Kind      string
	ChatID    string
	MessageID string
	AgentID   string
	Data      map[string]any
	Timestamp time.Time
}

// Broker is the pub/sub channel for live UI updates. Topics are opaque
// strings; ChatTopic builds the conventional per-chat topic.
type Broker interface {
	Publish(topic string, event BroadcastEvent)

	// Subscribe returns a receive channel for the topic and a cancel
	// function that releases the subscription.
	Subscribe(topic string) (<-chan BroadcastEvent, func())
}

// ChatTopic returns the broadcast topic for a chat's live channel.
func ChatTopic(chatID string) string {
	return "chat:" + chatID
}

// AccountTopic returns the broadcast topic for account-wide notices that are
// not tied to a single chat, such as initiation decision notices.
func AccountTopic(accountID string) string {
	return "account:" + accountID
}
