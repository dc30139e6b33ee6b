package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a unique identifier for ephemeral work units such as turn
// invocations and queued tasks.
func NewID() string {
	return uuid.NewString()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID generates a lexicographically sortable identifier for persisted
// entities. ULIDs embed their creation time, which keeps primary-key order
// aligned with insertion order across stores.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
