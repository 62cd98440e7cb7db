// Package uplink forwards base station telemetry to its final destination:
// an HTTP API, an MQTT broker, or a time-series/relational store.
//
// Every Send is a single attempt. Sinks never retry or buffer; the caller
// decides what a failure means.
package uplink

import (
	"context"
	"errors"

	"buzzhive/internal/models"
)

var (
	// ErrConnectivityUnavailable means the destination is known to be unreachable.
	ErrConnectivityUnavailable = errors.New("uplink: connectivity unavailable")
	// ErrUploadFailed means an attempt was made and not acknowledged as successful.
	ErrUploadFailed = errors.New("uplink: upload failed")
)

// Sink delivers telemetry records.
type Sink interface {
	// Send makes exactly one delivery attempt.
	Send(ctx context.Context, t models.Telemetry) error
	// Ping reports whether the destination is currently reachable.
	Ping(ctx context.Context) error
	Close() error
}
