// Package store provides the persistence backends for chats, messages,
// agents, memories and audit entries: a SQLite store for durable deployments
// and an in-memory store for tests and ephemeral setups. Both hand out views
// satisfying the store contracts in package core.
package store
