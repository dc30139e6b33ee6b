// Package core provides the foundational domain types and interfaces used by
// Confab. It defines the core abstractions for:
//
//   - Chats (shared conversation threads with lifecycle + consolidation watermark)
//   - Messages (streamed agent/user turns with tool-usage bookkeeping)
//   - Agents (configured personas bound to a model id and tool set)
//   - AgentMemories (journal/core entries distilled from conversations)
//   - AuditEntries (immutable decision records)
//   - Pluggable entity stores, a durable task queue, a live-update broker
//     and an injectable clock
//
// The package intentionally keeps implementation concerns (persistence, model
// providers, turn orchestration) out of scope, exposing small interfaces to
// enable custom backends and extensions.
package core
