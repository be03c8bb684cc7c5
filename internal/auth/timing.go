package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	Floor  time.Duration // minimum response time of a padded operation
	Jitter time.Duration // random extra on top of Floor
}

// TimingDelay pads sensitive operations to a common duration so "unknown
// email" and "wrong password" cannot be told apart by how long they take.
type TimingDelay struct {
	config TimingConfig
	sleep  func(ctx context.Context, d time.Duration)
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config, sleep: sleepContext}
}

// cryptoRandDuration returns a uniformly random duration in [0, limit).
func cryptoRandDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(limit))
}

// Target returns the padded duration for one operation.
func (td *TimingDelay) Target() time.Duration {
	return td.config.Floor + cryptoRandDuration(td.config.Jitter)
}

// WaitFrom sleeps until at least Target has elapsed since start. It returns
// early when ctx is done.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time) {
	if remaining := td.Target() - time.Since(start); remaining > 0 {
		td.sleep(ctx, remaining)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
