package loadgen

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/staffbase/kvstore-exporter/internal/metrics"
)

// PreflightError is returned when the target fails its liveness probe. No
// pattern has been started when it is returned.
type PreflightError struct {
	Target string
	Err    error
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("target %s is not serving: %v", e.Target, e.Err)
}

func (e *PreflightError) Unwrap() error {
	return e.Err
}

// Coordinator runs a set of patterns against one target under a shared deadline.
type Coordinator struct {
	client   *Client
	patterns []Pattern
	rec      *recorder
	log      logrus.FieldLogger
}

func NewCoordinator(client *Client, reg *metrics.Registry, log logrus.FieldLogger, patterns ...Pattern) (*Coordinator, error) {
	rec, err := newRecorder(reg, log)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		client:   client,
		patterns: patterns,
		rec:      rec,
		log:      log,
	}, nil
}

// Run checks that the target is alive, then runs every pattern concurrently
// until now+duration and waits for all of them to stop.
//
// Patterns share nothing but the deadline and the client. A pattern that panics
// stops on its own; the others keep running and the panic is returned as an
// error once everything has stopped.
func (c *Coordinator) Run(ctx context.Context, duration time.Duration) ([]Report, error) {
	c.log.WithField("target", c.client.BaseURL).Info("Checking that the target is running")
	if err := c.client.CheckAlive(ctx); err != nil {
		return nil, &PreflightError{Target: c.client.BaseURL, Err: err}
	}

	deadline := time.Now().Add(duration)
	c.log.WithFields(logrus.Fields{
		"duration": duration,
		"patterns": len(c.patterns),
	}).Info("Starting load test")

	execs := make([]*execution, len(c.patterns))
	var wg conc.WaitGroup
	for i, p := range c.patterns {
		e := newExecution(p)
		execs[i] = e
		wg.Go(func() {
			e.run(ctx, c.client, deadline, c.rec, c.log)
		})
	}

	var err error
	if r := wg.WaitAndRecover(); r != nil {
		err = r.AsError()
		c.log.WithError(err).Error("A pattern panicked")
	}

	reports := make([]Report, len(execs))
	for i, e := range execs {
		reports[i] = e.report()
	}

	c.log.Info("Load test completed")
	return reports, err
}
