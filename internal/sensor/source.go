// Package sensor connects to heart rate sensors and turns their notifications into readings.
package sensor

import (
	"context"
	"time"
)

// Reading is one accepted heart rate sample.
type Reading struct {
	BPM int
	At  time.Time
}

// Source opens connections to a sensor.
type Source interface {
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is one live sensor connection.
//
// Readings is closed once the link is down. Done is closed at the same moment,
// and Err then reports why: nil after Close, ErrPeerDisconnected or another error otherwise.
type Link interface {
	Readings() <-chan Reading
	Done() <-chan struct{}
	Err() error
	Close() error
}
