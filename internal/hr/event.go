package hr

import (
	"fmt"
	"strings"
)

// Event names a change that outputs can react to.
type Event string

const (
	EventConnected    Event = "connected"
	EventDisconnected Event = "disconnected"
	EventUpdated      Event = "heart_rate_updated"
)

// Events lists every event in a stable order.
var Events = []Event{EventConnected, EventDisconnected, EventUpdated}

// ParseEvent accepts an event name case-insensitively.
func ParseEvent(s string) (Event, error) {
	name := Event(strings.ToLower(strings.TrimSpace(s)))
	for _, e := range Events {
		if e == name {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown event %q (must be one of connected, disconnected, heart_rate_updated)", s)
}

// Update is one unit of fan-out: the event and the snapshot taken when it happened.
type Update struct {
	Seq      uint64
	Event    Event
	Snapshot Snapshot
}
