package hub

import (
	"log/slog"
	"sync"
)

// CloseLine collects shutdown steps and runs them once, last added first.
type CloseLine struct {
	mu      sync.Mutex
	closers []func()
}

// Add queues a shutdown step.
func (c *CloseLine) Add(closer func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer)
}

// AddE queues a step whose error is logged under name.
func (c *CloseLine) AddE(log *slog.Logger, name string, closeWithError func() error) {
	c.Add(func() {
		if err := closeWithError(); err != nil {
			log.Warn("shutdown step failed", "step", name, "error", err)
		}
	})
}

// Close runs every queued step in reverse order and empties the line.
func (c *CloseLine) Close() {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] != nil {
			closers[i]()
		}
	}
}
