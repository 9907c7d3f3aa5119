// Package metrics provides metrics recording for the dispatch worker.
// It uses the null object pattern to avoid nil checks throughout the codebase.
package metrics

import "time"

// Recorder defines the interface for recording dispatch metrics.
type Recorder interface {
	// RecordReceived increments the count of broker messages received.
	RecordReceived()

	// RecordProcessed records a fully dispatched and acknowledged message with its latency.
	RecordProcessed(latency time.Duration)

	// RecordMalformed increments the count of messages that could not be decoded.
	RecordMalformed()

	// RecordSent increments the count of notifications delivered on channel.
	RecordSent(channel string)

	// RecordRejected increments the count of requests rejected by the channel's validator.
	RecordRejected(channel string)

	// RecordFailed increments the count of failed deliveries on channel.
	RecordFailed(channel string)

	// RecordDeadLettered increments the count of failures handed to a dead-letter sink.
	RecordDeadLettered()

	// RecordError increments the error counter.
	RecordError()
}

// NoOp is a no-op implementation of Recorder that discards all metrics.
type NoOp struct{}

func (NoOp) RecordReceived()               {}
func (NoOp) RecordProcessed(time.Duration) {}
func (NoOp) RecordMalformed()              {}
func (NoOp) RecordSent(string)             {}
func (NoOp) RecordRejected(string)         {}
func (NoOp) RecordFailed(string)           {}
func (NoOp) RecordDeadLettered()           {}
func (NoOp) RecordError()                  {}

var (
	_ Recorder = NoOp{}
	_ Recorder = (*Collector)(nil)
)
