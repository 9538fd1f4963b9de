// Package feature toggles the optional outputs at runtime.
package feature

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/dispatch"
)

// Feature is an output that can be switched on and off.
// A feature that also implements dispatch.Consumer receives updates only while enabled.
type Feature interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ErrUnknownFeature is returned for names that were never added.
var ErrUnknownFeature = errors.New("unknown feature")

// StartError reports a feature that failed to start and was left disabled.
type StartError struct {
	Feature string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Feature, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Status describes one registered feature.
type Status struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	LastErr string `json:"last_error,omitempty"`
}

type entry struct {
	feature Feature
	enabled bool
	reg     *dispatch.Registration
	lastErr error
}

// Registry keeps the features in insertion order and wires enabled consumers into the dispatcher.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      []string
	dispatcher *dispatch.Dispatcher
	logger     *logrus.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(d *dispatch.Dispatcher, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		entries:    make(map[string]*entry),
		dispatcher: d,
		logger:     logger,
	}
}

// Add registers a feature in the disabled state.
func (r *Registry) Add(f Feature) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[f.Name()]; ok {
		return fmt.Errorf("feature %q already registered", f.Name())
	}
	r.entries[f.Name()] = &entry{feature: f}
	r.order = append(r.order, f.Name())
	return nil
}

// Enable starts the feature. On a start failure the feature stays disabled and a *StartError is returned.
func (r *Registry) Enable(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFeature, name)
	}
	if e.enabled {
		return nil
	}

	if err := e.feature.Start(ctx); err != nil {
		e.lastErr = &StartError{Feature: name, Err: err}
		r.logger.WithFields(logrus.Fields{
			"feature": name,
			"error":   err,
		}).Error("Feature failed to start, leaving it disabled")
		return e.lastErr
	}

	if c, ok := e.feature.(dispatch.Consumer); ok && r.dispatcher != nil {
		reg, err := r.dispatcher.Register(c)
		if err != nil {
			if stopErr := e.feature.Stop(ctx); stopErr != nil {
				r.logger.WithField("error", stopErr).Warn("Failed to stop feature after registration failure")
			}
			e.lastErr = &StartError{Feature: name, Err: err}
			return e.lastErr
		}
		e.reg = reg
	}

	e.enabled = true
	e.lastErr = nil
	r.logger.WithField("feature", name).Info("Feature enabled")
	return nil
}

// Disable unregisters the feature from the dispatcher first, then stops it.
func (r *Registry) Disable(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFeature, name)
	}
	return r.disable(ctx, e)
}

func (r *Registry) disable(ctx context.Context, e *entry) error {
	if !e.enabled {
		return nil
	}
	if e.reg != nil {
		e.reg.Close()
		e.reg = nil
	}
	e.enabled = false

	if err := e.feature.Stop(ctx); err != nil {
		r.logger.WithFields(logrus.Fields{
			"feature": e.feature.Name(),
			"error":   err,
		}).Warn("Feature did not stop cleanly")
		return fmt.Errorf("failed to stop %s: %w", e.feature.Name(), err)
	}
	r.logger.WithField("feature", e.feature.Name()).Info("Feature disabled")
	return nil
}

// Set enables or disables the feature.
func (r *Registry) Set(ctx context.Context, name string, enabled bool) error {
	if enabled {
		return r.Enable(ctx, name)
	}
	return r.Disable(ctx, name)
}

// Enabled reports whether the feature is running.
func (r *Registry) Enabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	return ok && e.enabled
}

// Get returns the feature registered under name.
func (r *Registry) Get(name string) (Feature, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.feature, true
}

// Status lists every feature in insertion order.
func (r *Registry) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		st := Status{Name: name, Enabled: e.enabled}
		if e.lastErr != nil {
			st.LastErr = e.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// StopAll disables every feature in reverse insertion order.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		if err := r.disable(ctx, r.entries[r.order[i]]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Names lists the registered feature names in insertion order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
