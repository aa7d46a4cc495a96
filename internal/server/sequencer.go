package server

import (
	"context"
)

// OpFunc is a state-changing engine operation scheduled for execution.
type OpFunc func(ctx context.Context) error

type opRequest struct {
	op   OpFunc
	done chan error
}

// Sequencer funnels all state-changing operations through a single
// goroutine so the engine never sees concurrent mutations. HTTP and
// gRPC handlers submit closures and block until the result comes back.
type Sequencer struct {
	ops chan opRequest
}

func NewSequencer(buffer int) *Sequencer {
	return &Sequencer{
		ops: make(chan opRequest, buffer),
	}
}

// Submit enqueues op and waits for the sequencer goroutine to execute it.
func (s *Sequencer) Submit(ctx context.Context, op OpFunc) error {
	req := opRequest{op: op, done: make(chan error, 1)}

	select {
	case s.ops <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes submitted operations one at a time until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.ops:
			req.done <- req.op(ctx)
		}
	}
}
