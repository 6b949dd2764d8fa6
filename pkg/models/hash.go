package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// NewID returns a UUIDv7: time-ordered, with the creation instant embedded.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 generation only fails when the entropy source does; fall
		// back to v4 rather than panic in a request path.
		return uuid.NewString()
	}
	return id.String()
}

// IDTime extracts the embedded timestamp from a UUIDv7 id. Returns the zero
// time for anything that is not a v7 UUID.
func IDTime(id string) time.Time {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := parsed.Time().UnixTime()
	return time.Unix(sec, nsec)
}

// HashContent derives a 32-char hex content address from the canonical JSON
// of v. Map keys are sorted by the encoder, so field order never matters.
func HashContent(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte(fmt.Sprintf("%+v", v))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}

var contentIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// IsContentID reports whether s is a 32-char lowercase hex content address.
func IsContentID(s string) bool { return contentIDPattern.MatchString(s) }
