// Package memory implements the agent memory lifecycle: the Consolidator
// distills idle multi-agent chats into journal and core entries, the
// Reflector promotes journal observations that proved durable, and the
// Refiner runs consent-gated maintenance passes over core ledgers.
//
// All three are sweep-style components driven by a scheduler. They share two
// hard invariants enforced here and at the store boundary: memory types only
// ever move journal→core, and constitutional entries are never deleted or
// merged. Persistence goes through core.MemoryStore; pick a backend from the
// store package at wiring time.
package memory
