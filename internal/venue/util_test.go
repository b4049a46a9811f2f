package venue_test

import (
	"time"

	"mmhedge/pkg/backoff"
)

func fastBackoff() backoff.Backoff {
	return backoff.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}
}
