// Package metrics records host activity. The Recorder interface keeps the
// host independent of the metrics backend; NoopRecorder is the default.
package metrics

import "time"

// ResultLabel enumerates outcome categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultError   ResultLabel = "error"
)

// Result maps an error to its label.
func Result(err error) ResultLabel {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// Recorder defines observability hooks for host operations.
type Recorder interface {
	ObserveExecute(kind, action string, d time.Duration, result ResultLabel)
	IncQuery(kind string, result ResultLabel)
	IncMessageDispatched(kind string)
	IncTransaction(result ResultLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveExecute(string, string, time.Duration, ResultLabel) {}
func (NoopRecorder) IncQuery(string, ResultLabel)                               {}
func (NoopRecorder) IncMessageDispatched(string)                                {}
func (NoopRecorder) IncTransaction(ResultLabel)                                 {}
