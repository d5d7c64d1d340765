// Package idgen generates the handle formats Vigil's documents use:
// INC-YYYY-<5 alphanumeric>, ACT-YYYY-<5 alphanumeric>,
// LRN-YYYY-<5 alphanumeric>, RPT-YYYY-<5 alphanumeric>, and UUID message ids.
package idgen

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// suffix returns n crypto/rand-selected alphanumeric characters.
func suffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the OS entropy source is broken;
		// deterministic fallback keeps id generation total rather than panicking.
		for i := range buf {
			buf[i] = alphanumeric[0]
		}
		return string(buf)
	}
	for i, b := range buf {
		buf[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(buf)
}

// NewIncidentID returns an id in the form INC-YYYY-<5 alphanumeric>.
func NewIncidentID(now time.Time) string {
	return fmt.Sprintf("INC-%d-%s", now.Year(), suffix(5))
}

// NewActionID returns an id in the form ACT-YYYY-<5 alphanumeric>.
func NewActionID(now time.Time) string {
	return fmt.Sprintf("ACT-%d-%s", now.Year(), suffix(5))
}

// NewMessageID returns a UUID for use as an A2A envelope message_id.
func NewMessageID() string {
	return uuid.NewString()
}

// NewLearningID returns an id in the form LRN-YYYY-<5 alphanumeric>.
func NewLearningID(now time.Time) string {
	return fmt.Sprintf("LRN-%d-%s", now.Year(), suffix(5))
}

// NewReportID returns an id in the form RPT-YYYY-<5 alphanumeric>.
func NewReportID(now time.Time) string {
	return fmt.Sprintf("RPT-%d-%s", now.Year(), suffix(5))
}
