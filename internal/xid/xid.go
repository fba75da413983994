package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random identifier of the form prefix-uuid.
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return prefix + "-" + id.String()
}

// Stable derives a name-based (v5) identifier from parts, so that
// re-importing the same record yields the same id.
func Stable(prefix string, parts ...string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "\x1f")))
	return prefix + "-" + id.String()
}
