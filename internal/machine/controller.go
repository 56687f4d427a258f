package machine

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Controller owns the command state and notifies listeners of changes.
type Controller struct {
	logger *zap.Logger

	mu        sync.RWMutex
	state     State
	previous  State
	changed   time.Time
	listeners []func(Status)
}

func NewController(logger *zap.Logger) *Controller {
	return &Controller{
		logger:  logger,
		state:   StateIdle,
		changed: time.Now(),
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		State:           c.state,
		Previous:        c.previous,
		LastStateChange: c.changed,
	}
}

// OnChange registers fn to receive every status after a transition.
func (c *Controller) OnChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Transition moves to state to if allowed.
func (c *Controller) Transition(to State) error {
	_, err := c.move(to, func(State) bool { return true })
	return err
}

// Release returns to Idle if the board is still in state from. Sampling
// machines call it when their run ends on its own.
func (c *Controller) Release(from State) bool {
	return c.Handover(from, StateIdle)
}

// Handover moves to state to only if the board is still in state from.
func (c *Controller) Handover(from, to State) bool {
	moved, err := c.move(to, func(current State) bool { return current == from })
	if err != nil {
		c.logger.Error("Failed to release state", zap.Error(err))
	}
	return moved
}

func (c *Controller) move(to State, when func(State) bool) (bool, error) {
	c.mu.Lock()
	from := c.state
	if !when(from) {
		c.mu.Unlock()
		return false, nil
	}
	if err := ValidateTransition(from, to); err != nil {
		c.mu.Unlock()
		c.logger.Warn("Rejected state transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
		return false, err
	}
	if from == to {
		c.mu.Unlock()
		return false, nil
	}
	c.previous = from
	c.state = to
	c.changed = time.Now()
	status := c.statusLocked()
	listeners := append([]func(Status){}, c.listeners...)
	c.mu.Unlock()

	c.logger.Info("Command state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	for _, fn := range listeners {
		fn(status)
	}
	return true, nil
}
