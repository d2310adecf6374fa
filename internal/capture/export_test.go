package capture

import (
	"context"
	"time"
)

// SetSleep swaps the backoff sleeper and returns a func restoring it.
func SetSleep(fn func(context.Context, time.Duration) error) (restore func()) {
	prev := sleep
	sleep = fn
	return func() { sleep = prev }
}
