package jot

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so sync logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// NowMillis returns a clock reading as Unix milliseconds, the resolution
// every persisted timestamp uses.
func NowMillis(c Clock) int64 { return c.Now().UnixMilli() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
// Generated ids must be valid item ids: lowercase hex, no separators.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random 32-character hex ids.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
