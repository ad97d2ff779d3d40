package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier for a new record.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier whose time component is t. Identifiers minted
// within the same millisecond still sort in creation order.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Valid reports whether id was produced by New or NewAt.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// Time extracts the creation time encoded in id.
func Time(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()).UTC(), true
}
