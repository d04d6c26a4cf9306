package scheduler

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint digests the (userId, action, requestDate) triple that must stay
// unique among an event's pending proposals.
func Fingerprint(userID string, action ModificationAction, requestDate time.Time) string {
	material := userID + "\x00" + string(action) + "\x00" + requestDate.UTC().Format(KeyLayout)
	sum := blake2b.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
