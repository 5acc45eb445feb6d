// Package ids provides ID primitives (e.g., ULID) used across the sync engine.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// TempPrefix marks client-generated placeholder ids used for optimistic
// creates before the server assigns the authoritative id.
const TempPrefix = "tmp_"

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable and work well in distributed systems.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewTempID returns a prefixed ULID for an optimistic placeholder item.
func NewTempID(now time.Time) (string, error) {
	id, err := NewULID(now)
	if err != nil {
		return "", err
	}
	return TempPrefix + id, nil
}

// IsTempID reports whether id is a client-generated placeholder id.
func IsTempID(id string) bool {
	return len(id) > len(TempPrefix) && id[:len(TempPrefix)] == TempPrefix
}
