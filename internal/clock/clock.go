// Package clock supplies elapsed time for chunk stores.
package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock reports seconds elapsed since the clock was created.
// Readings never decrease.
type Clock interface {
	Elapsed() float64
}

// ElapsedClock measures elapsed time against a clockwork.Clock, so tests can
// drive it with clockwork.NewFakeClock().
type ElapsedClock struct {
	mu    sync.Mutex
	base  clockwork.Clock
	start time.Time
	last  float64
}

func New(base clockwork.Clock) *ElapsedClock {
	return &ElapsedClock{
		base:  base,
		start: base.Now(),
	}
}

// NewSystemClock uses the process monotonic clock.
func NewSystemClock() *ElapsedClock {
	return New(clockwork.NewRealClock())
}

func (c *ElapsedClock) Elapsed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.base.Since(c.start).Seconds()
	if now < c.last {
		return c.last
	}
	c.last = now
	return now
}

var _ Clock = (*ElapsedClock)(nil)
