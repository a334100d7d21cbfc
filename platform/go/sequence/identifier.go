package sequence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultWidth is the minimum digit count for the numeric suffix when a
// namespace does not configure its own.
const DefaultWidth = 4

var suffixPattern = regexp.MustCompile(`^[0-9]+$`)

// Namespace describes one logical category of sequential identifiers sharing
// a single per-tenant counter and prefix (e.g. "course" -> COURSE0007).
type Namespace struct {
	Name   string // counter namespace key segment, e.g. "courseid"
	Prefix string // identifier prefix, e.g. "COURSE"
	Width  int    // minimum digits in the numeric suffix; 0 means DefaultWidth
}

func (n Namespace) width() int {
	if n.Width <= 0 {
		return DefaultWidth
	}
	return n.Width
}

// CounterKey returns the storage key partitioning this namespace's counter
// per tenant, formatted as {namespace}_{tenantID}.
func (n Namespace) CounterKey(tenantID string) string {
	return n.Name + "_" + tenantID
}

// Format renders a sequence number as an identifier. Width is a floor, not a
// cap: once the sequence outgrows the padded capacity the suffix keeps its
// full decimal form (COURSE9999 is followed by COURSE10000).
func (n Namespace) Format(seq int64) string {
	return fmt.Sprintf("%s%0*d", n.Prefix, n.width(), seq)
}

// SuffixOf extracts the numeric suffix from an identifier produced by Format.
func (n Namespace) SuffixOf(id string) (int64, error) {
	digits := strings.TrimPrefix(id, n.Prefix)
	if digits == id || !suffixPattern.MatchString(digits) {
		return 0, fmt.Errorf("%w: %q does not match %s identifiers", ErrMalformedIdentifier, id, n.Name)
	}
	seq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMalformedIdentifier, id, err)
	}
	return seq, nil
}

// Owns reports whether id carries this namespace's prefix and a decimal suffix.
func (n Namespace) Owns(id string) bool {
	_, err := n.SuffixOf(id)
	return err == nil
}

// FallbackID produces a clearly non-sequential identifier for degraded-mode
// creation when the counter store is unreachable. The -F- segment keeps it
// outside the sequential pattern so reconciliation can find these records.
func (n Namespace) FallbackID(now time.Time) string {
	return n.Prefix + "-F-" + strconv.FormatInt(now.UnixNano(), 10)
}
