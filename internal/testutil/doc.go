// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing core entities (chats, agents,
// messages, memories) and driving time-dependent behavior deterministically.
// These helpers are intentionally minimal and not intended for production
// usage.
package testutil
