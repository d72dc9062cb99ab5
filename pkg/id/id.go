// Package id generates time-sortable identifiers for fills and exit intents.
package id

import (
	cryptorand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(cryptorand.Reader, 0)
)

// New returns a ULID string. ULIDs are lexicographically sortable by
// generation time, which keeps fill journals and intent logs naturally
// ordered in SQLite without a separate sequence column.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}
