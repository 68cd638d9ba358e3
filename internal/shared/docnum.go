package shared

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Document number prefixes.
const (
	DocPrefixQuotation = "QUO"
	DocPrefixOrder     = "ORD"
)

// NumberSource draws the random component of a document number.
// The default uses math/rand/v2; tests substitute a fixed source.
type NumberSource func() int

// DefaultNumberSource returns a 4-digit number in [1000, 9999].
func DefaultNumberSource() int {
	return 1000 + rand.IntN(9000)
}

// DocNumber formats a date-stamped document reference, e.g.
// QUO-20260830-4821. The reference is assigned exactly once at
// creation; repositories retry with a fresh draw on a unique-key
// collision.
func DocNumber(prefix string, at time.Time, src NumberSource) string {
	if src == nil {
		src = DefaultNumberSource
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, at.Format("20060102"), src())
}
