package metrics

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnknownMetric is returned when a metric is used before it was registered,
// or as the wrong kind.
var ErrUnknownMetric = errors.New("unknown metric")

type InvalidLabelError struct {
	Metric string
	Want   int
	Got    int
}

func (e *InvalidLabelError) Error() string {
	return fmt.Sprintf("metric %s: expected %d label values, got %d", e.Metric, e.Want, e.Got)
}

type InvalidValueError struct {
	Metric string
	Value  float64
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("metric %s: invalid observation %v", e.Metric, e.Value)
}

// RegistrationError reports a metric declared twice with different signatures,
// or a declaration the underlying registry refused. It is a configuration error.
type RegistrationError struct {
	Metric string
	Reason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering metric %s: %s", e.Metric, e.Reason)
}
