// Package initiative implements the initiation decision engine: the sweep
// that lets dormant agents reach out on their own instead of only answering.
//
// Each sweep asks every eligible agent's model to pick exactly one of three
// actions: continue an open conversation, initiate a new one, or do nothing.
// The guardrails run before any model call: the account must show recent
// activity, the local hour window (with a stable per-agent jitter) must be
// open, and agents at their cap of unanswered initiated chats are skipped
// outright. Every outcome, including a skip, writes exactly one audit entry.
package initiative
