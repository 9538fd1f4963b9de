// Package monitor runs the sensor session: it drives the connection phases,
// writes every accepted reading into the store and emits the matching updates.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/hr"
	"github.com/srg/hrmon/internal/sensor"
)

// UpdateBuffer is the capacity of the Updates channel.
const UpdateBuffer = 64

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("monitor closed")

// State is the externally visible session state.
type State struct {
	Phase    hr.Phase
	Snapshot hr.Snapshot
	LastErr  error
}

// Monitor owns the single sensor session.
type Monitor struct {
	store   *hr.Store
	machine *hr.Machine
	source  sensor.Source
	logger  *logrus.Logger

	updates   chan hr.Update
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	closing bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// New creates a monitor writing into store and connecting through source.
func New(store *hr.Store, source sensor.Source, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Monitor{
		store:   store,
		machine: hr.NewMachine(),
		source:  source,
		logger:  logger,
		updates: make(chan hr.Update, UpdateBuffer),
		closed:  make(chan struct{}),
	}
}

// Updates delivers every lifecycle and reading update in order.
// It is closed by Close.
func (m *Monitor) Updates() <-chan hr.Update {
	return m.updates
}

// Store returns the value store the monitor writes into.
func (m *Monitor) Store() *hr.Store {
	return m.store
}

// State returns the current phase, snapshot and the error that ended the last session.
func (m *Monitor) State() State {
	m.mu.Lock()
	lastErr := m.lastErr
	m.mu.Unlock()

	return State{
		Phase:    m.machine.Phase(),
		Snapshot: m.store.Get(),
		LastErr:  lastErr,
	}
}

// Connect starts a session with address in the background.
// Only one session may be in flight; a second call fails with sensor.ErrAlreadyConnected.
func (m *Monitor) Connect(ctx context.Context, address string) error {
	// Close marks closing under mu, so a session is either published before
	// Close reads it or never started.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrClosed
	}

	if err := m.machine.TransitionFrom(hr.Disconnected, hr.Connecting); err != nil {
		return fmt.Errorf("%w: session is %s", sensor.ErrAlreadyConnected, m.machine.Phase())
	}

	sessCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.lastErr = nil

	m.store.SetAddress(address)
	m.logger.WithField("address", address).Info("Starting heart rate session")

	groutine.Go(sessCtx, "ble-ingest", func(ctx context.Context) {
		defer close(done)
		defer cancel()
		m.ingest(ctx, address)

		m.mu.Lock()
		if m.done == done {
			m.cancel = nil
		}
		m.mu.Unlock()
	})
	return nil
}

// Disconnect stops the current session and waits until the disconnect update is emitted.
func (m *Monitor) Disconnect() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return sensor.ErrNotConnected
	}

	m.logger.Info("Disconnecting heart rate sensor")
	cancel()
	<-done
	return nil
}

// Wait blocks until the current session, if any, has ended.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Close ends any session and closes the Updates channel.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closing = true
		m.mu.Unlock()

		_ = m.Disconnect()
		m.Wait()
		close(m.closed)
		close(m.updates)
	})
}

func (m *Monitor) ingest(ctx context.Context, address string) {
	link, err := m.source.Connect(ctx, address)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to connect to heart rate sensor")
		m.finish(err)
		return
	}

	if err := m.machine.Transition(hr.Connected); err != nil {
		_ = link.Close()
		m.finish(err)
		return
	}
	m.emit(hr.EventConnected, m.store.Set(0, true))

	for {
		select {
		case <-ctx.Done():
			if err := link.Close(); err != nil {
				m.logger.WithField("error", err).Warn("Failed to close sensor link")
			}
			m.finish(nil)
			return

		case r, ok := <-link.Readings():
			if !ok {
				m.finish(link.Err())
				return
			}
			if r.BPM <= 0 {
				continue
			}
			m.emit(hr.EventUpdated, m.store.Set(r.BPM, true))
		}
	}
}

// finish moves to Disconnected and emits the zero sample every output must observe.
func (m *Monitor) finish(cause error) {
	if err := m.machine.Transition(hr.Disconnected); err != nil {
		m.logger.WithField("error", err).Debug("Session already disconnected")
	}

	m.mu.Lock()
	m.lastErr = cause
	m.mu.Unlock()

	fields := logrus.Fields{"address": m.store.Get().Address}
	if cause != nil {
		fields["error"] = cause
		m.logger.WithFields(fields).Warn("Heart rate sensor disconnected")
	} else {
		m.logger.WithFields(fields).Info("Heart rate sensor disconnected")
	}

	m.emit(hr.EventDisconnected, m.store.Reset())
}

func (m *Monitor) emit(event hr.Event, snap hr.Snapshot) {
	u := hr.Update{Event: event, Snapshot: snap}
	select {
	case m.updates <- u:
	case <-m.closed:
	}
}
