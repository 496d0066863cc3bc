package solver

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Interrupter is a caller owned cancellation flag. It may be set from any goroutine; a solve
// observes it within one iteration.
type Interrupter struct {
	flag atomic.Bool
}

// NewInterrupter returns an unset Interrupter.
func NewInterrupter() *Interrupter {
	return &Interrupter{}
}

// Interrupt asks the solve to stop.
func (i *Interrupter) Interrupt() {
	i.flag.Store(true)
}

// Interrupted reports whether Interrupt was called since the last Reset.
func (i *Interrupter) Interrupted() bool {
	return i != nil && i.flag.Load()
}

// Reset clears the flag.
func (i *Interrupter) Reset() {
	i.flag.Store(false)
}

// Progress is reported after every iteration of a sub-solve.
type Progress struct {
	RunID     string
	Action    int
	Iteration int
	Cost      float64
	Lambda    float64
	State     State
}

// ProgressFunc receives progress. It is called on the solving goroutine.
type ProgressFunc func(Progress)

// budget combines cancellation sources and the wall time limit.
type budget struct {
	ctx         context.Context
	interrupter *Interrupter
	clock       clock.Clock
	start       time.Time
	deadline    time.Time
}

func newBudget(ctx context.Context, interrupter *Interrupter, clk clock.Clock, timeoutSeconds float64) *budget {
	b := &budget{ctx: ctx, interrupter: interrupter, clock: clk, start: clk.Now()}
	if timeoutSeconds > 0 {
		b.deadline = b.start.Add(time.Duration(timeoutSeconds * float64(time.Second)))
	}
	return b
}

// check returns ErrCancelled or ErrTimedOut when the solve must stop.
func (b *budget) check() error {
	if b.interrupter.Interrupted() {
		return ErrCancelled
	}
	if err := b.ctx.Err(); err != nil {
		return errors.Wrap(ErrCancelled, err.Error())
	}
	if !b.deadline.IsZero() && !b.clock.Now().Before(b.deadline) {
		return ErrTimedOut
	}
	return nil
}

func (b *budget) elapsed() time.Duration {
	return b.clock.Since(b.start)
}

// stopReason maps a budget error to a termination reason.
func stopReason(err error) (Reason, bool) {
	switch {
	case errors.Is(err, ErrCancelled):
		return ReasonCancelled, true
	case errors.Is(err, ErrTimedOut):
		return ReasonTimedOut, true
	}
	return ReasonNone, false
}
