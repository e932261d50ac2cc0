package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Dispatcher owns one serialized inbox per agent. All mutating operations for
// a given agent run strictly in arrival order on that agent's inbox goroutine;
// operations for different agents proceed fully in parallel. There is no lock
// shared across agents.
type Dispatcher struct {
	mu     sync.Mutex
	boxes  map[string]*inbox
	logger zerolog.Logger
}

type inbox struct {
	jobs chan job
}

type job struct {
	op   string
	fn   func() error
	done chan error
}

// inboxBuffer bounds how many operations can queue behind an in-flight one
// before enqueueing itself blocks
const inboxBuffer = 64

// NewDispatcher creates a dispatcher with no inboxes; inboxes are created on
// first use and live for the process lifetime (the agent population is
// bounded by the directory)
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		boxes:  make(map[string]*inbox),
		logger: logger.With().Str("component", "dispatch").Logger(),
	}
}

func (d *Dispatcher) box(agentID string) *inbox {
	d.mu.Lock()
	defer d.mu.Unlock()

	box, ok := d.boxes[agentID]
	if !ok {
		box = &inbox{jobs: make(chan job, inboxBuffer)}
		d.boxes[agentID] = box
		go d.run(agentID, box)
	}
	return box
}

func (d *Dispatcher) run(agentID string, box *inbox) {
	for j := range box.jobs {
		err := d.invoke(agentID, j)
		if j.done != nil {
			j.done <- err
		} else if err != nil {
			d.logger.Error().Err(err).
				Str("agent_id", agentID).
				Str("op", j.op).
				Msg("async operation failed")
		}
	}
}

// invoke runs one job, converting a panic into an error so a broken handler
// can never kill the agent's inbox goroutine
func (d *Dispatcher) invoke(agentID string, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", j.op, r)
			d.logger.Error().
				Str("agent_id", agentID).
				Str("op", j.op).
				Interface("panic", r).
				Msg("recovered panic in agent inbox")
		}
	}()
	return j.fn()
}

// Do runs fn on the agent's inbox and waits for it to complete, returning its
// error. A second Do for the same agent queues behind the in-flight one.
func (d *Dispatcher) Do(ctx context.Context, agentID, op string, fn func() error) error {
	box := d.box(agentID)
	j := job{op: op, fn: fn, done: make(chan error, 1)}

	select {
	case box.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		// The job still runs when its turn comes; only the caller stops waiting.
		return ctx.Err()
	}
}

// Post enqueues fn on the agent's inbox without waiting for it. Failures are
// logged by the inbox goroutine. Used for fire-and-forget events such as
// transport-level disconnects and signaling callbacks.
func (d *Dispatcher) Post(agentID, op string, fn func() error) {
	box := d.box(agentID)
	box.jobs <- job{op: op, fn: fn}
}
