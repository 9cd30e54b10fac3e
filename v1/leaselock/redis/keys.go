package redis

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// lockKey builds the store key for a lock. The environment segment isolates
// deployments that share one Redis; none of the segments are escaped, so they
// must not contain ":" in ways that collide.
func lockKey(keyPrefix, environment, name string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, environment, name)
}

// lockToken builds the ownership token stored as the key's value. It is only
// ever compared for equality, never parsed; the timestamp and host make it
// readable when inspecting Redis by hand, the UUID makes it unique.
func lockToken(now time.Time, host string) string {
	return fmt.Sprintf("ADDED:%s@%s:%s", now.UTC().Format(time.RFC3339Nano), host, uuid.NewString())
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
