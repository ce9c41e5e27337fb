package core

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"connmonitor/utils"
)

// NewID generates a new ULID with the given prefix.
// The format is: prefix_ULID
// Example: core.NewID("conn") returns "conn_01G0EZ1XTM37C5X11SQTDNCTM1"
func NewID(prefix string) string {
	utils.AssertInvariant(prefix != "" && strings.TrimSpace(prefix) != "", "prefix cannot be empty")

	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)

	return strings.ToLower(strings.TrimSpace(prefix)) + "_" + id.String()
}

// IsValidULID checks if the given string is a prefixed ULID (prefix_ULID).
func IsValidULID(id string) bool {
	parts := strings.Split(id, "_")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}

	for _, r := range parts[0] {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}

	if len(parts[1]) != 26 {
		return false
	}

	_, err := ulid.ParseStrict(parts[1])
	return err == nil
}
