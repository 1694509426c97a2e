package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newEnvelopeID returns a ULID used as envelope and invocation id.
// ULIDs sort by creation time, which keeps logs readable.
func newEnvelopeID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
