package loadgen

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type State int32

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Step performs one unit of work and returns the HTTP status it got back.
type Step func(ctx context.Context, c *Client) (int, error)

// Pattern is one named workload: Setup runs once, then Step repeats every
// Interval until the deadline passes.
type Pattern struct {
	Name     string
	Interval time.Duration
	Setup    func(ctx context.Context, c *Client)
	Step     Step
}

// Report summarises one pattern execution.
type Report struct {
	Pattern  string
	State    State
	Requests int64
	Failures int64
}

type execution struct {
	pattern  Pattern
	state    atomic.Int32
	requests atomic.Int64
	failures atomic.Int64
}

func newExecution(p Pattern) *execution {
	e := &execution{pattern: p}
	e.state.Store(int32(Idle))
	return e
}

func (e *execution) State() State {
	return State(e.state.Load())
}

func (e *execution) report() Report {
	return Report{
		Pattern:  e.pattern.Name,
		State:    e.State(),
		Requests: e.requests.Load(),
		Failures: e.failures.Load(),
	}
}

// run loops until deadline or until ctx is done. Iterations are sequential and a
// failed request never ends the loop.
func (e *execution) run(ctx context.Context, client *Client, deadline time.Time, rec *recorder, log logrus.FieldLogger) {
	e.state.Store(int32(Running))
	defer e.state.Store(int32(Stopped))

	log = log.WithField("pattern", e.pattern.Name)
	log.Debug("Pattern started")

	if e.pattern.Setup != nil {
		e.pattern.Setup(ctx, client)
	}

	for ctx.Err() == nil && time.Now().Before(deadline) {
		start := time.Now()
		status, err := e.pattern.Step(ctx, client)
		rec.record(e.pattern.Name, status, err, time.Since(start))

		e.requests.Add(1)
		if err != nil {
			e.failures.Add(1)
			log.WithError(err).Debug("Request failed")
		}

		if !sleep(ctx, min(e.pattern.Interval, time.Until(deadline))) {
			break
		}
	}

	log.WithField("requests", e.requests.Load()).Info("Pattern completed")
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
