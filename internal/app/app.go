// Package app assembles the monitor, the dispatcher and every output from the settings document.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/consumer/display"
	"github.com/srg/hrmon/internal/consumer/httpapi"
	"github.com/srg/hrmon/internal/consumer/osc"
	"github.com/srg/hrmon/internal/consumer/webhook"
	"github.com/srg/hrmon/internal/consumer/wsfeed"
	"github.com/srg/hrmon/internal/discovery"
	"github.com/srg/hrmon/internal/dispatch"
	"github.com/srg/hrmon/internal/feature"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/hr"
	"github.com/srg/hrmon/internal/monitor"
	"github.com/srg/hrmon/internal/sensor"
	"github.com/srg/hrmon/pkg/config"
)

// ErrNoDevice is returned by Run when no address is known.
var ErrNoDevice = errors.New("no device address: pass one, scan with --save or set HRMON_DEVICE")

// UI selects how the live value is shown locally.
type UI int

const (
	// UINone shows nothing locally.
	UINone UI = iota
	// UIPrinter writes one line per update.
	UIPrinter
	// UITerminal runs the interactive terminal display.
	UITerminal
)

// Options configures an App.
type Options struct {
	// SettingsPath is where settings changes made at runtime are saved. Empty disables saving.
	SettingsPath string
	Settings     *config.Settings
	Source       sensor.Source
	UI           UI
	// RememberDevice stores the connected address in the settings document.
	RememberDevice bool

	Input  io.Reader
	Output io.Writer
}

// App owns every long-lived component for one process.
type App struct {
	opts   Options
	logger *logrus.Logger

	store      *hr.Store
	monitor    *monitor.Monitor
	dispatcher *dispatch.Dispatcher
	features   *feature.Registry

	hooks   *webhook.Store
	engine  *webhook.Engine
	syncer  *webhook.Syncer
	http    *httpapi.Server
	ws      *wsfeed.Server
	display *display.Display

	settingsMu sync.Mutex
	settings   *config.Settings

	runCancel context.CancelFunc
	runDone   chan struct{}
	stopOnce  sync.Once
}

// New builds the components. Nothing is started until Start.
func New(opts Options, logger *logrus.Logger) (*App, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Settings == nil {
		opts.Settings = config.DefaultSettings()
	}
	if opts.Source == nil {
		return nil, errors.New("app: sensor source is required")
	}
	s := opts.Settings

	a := &App{
		opts:       opts,
		logger:     logger,
		settings:   s,
		store:      hr.NewStore(),
		dispatcher: dispatch.New(dispatch.DefaultQueueSize, logger),
	}
	a.monitor = monitor.New(a.store, opts.Source, logger)
	a.features = feature.NewRegistry(a.dispatcher, logger)

	a.hooks = webhook.NewStore(s.Webhooks.File, logger)
	a.engine = webhook.NewEngine(a.hooks, logger)
	a.syncer = webhook.NewSyncer(a.hooks, s.Webhooks.SyncURL, logger)
	a.http = httpapi.New(a.store, s.HTTP.Host, s.HTTP.Port, logger)
	a.ws = wsfeed.New(a.store, s.WebSocket.Host, s.WebSocket.Port, logger)

	features := []feature.Feature{
		a.http,
		a.ws,
		a.engine,
		osc.New(osc.Options{
			Host:        s.OSC.Host,
			Port:        s.OSC.Port,
			Address:     s.OSC.Address,
			Format:      s.OSC.Format,
			MinInterval: s.OSC.MinInterval.Duration(),
		}, logger),
		discovery.NewAnnouncer(s.MDNS.Instance, a.endpoints, logger),
	}

	switch opts.UI {
	case UITerminal:
		a.display = display.New(display.Options{
			Overlay:         overlayFromSettings(s.Overlay),
			LogLines:        s.Display.LogLines,
			Notices:         a.notices,
			OnOverlayChange: a.saveOverlay,
			OnDisconnect:    a.Disconnect,
			OnReconnect:     func() error { return a.Reconnect(context.Background()) },
			OnToggle:        func(name string) (bool, error) { return a.ToggleFeature(context.Background(), name) },
			Features:        []string{httpapi.FeatureName, wsfeed.FeatureName, webhook.FeatureName, osc.FeatureName},
			Input:           opts.Input,
			Output:          opts.Output,
			AltScreen:       s.Display.AltScreen,
		}, logger)
		features = append(features, a.display)
	case UIPrinter:
		out := opts.Output
		if out == nil {
			out = io.Discard
		}
		features = append(features, display.NewPrinter(out))
	}

	for _, f := range features {
		if err := a.features.Add(f); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Start loads the webhook list, starts forwarding monitor updates and enables
// the features switched on in the settings. A feature that fails to start is
// logged and left disabled; the others still start.
func (a *App) Start(ctx context.Context) error {
	if err := a.hooks.Load(); err != nil {
		a.logger.WithError(err).Warn("Failed to load webhooks, starting with an empty list")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel
	a.runDone = make(chan struct{})
	done := a.runDone
	groutine.Go(runCtx, "dispatcher", func(ctx context.Context) {
		defer close(done)
		if err := a.dispatcher.Run(ctx, a.monitor.Updates()); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("Dispatcher stopped")
		}
	})

	for _, name := range a.features.Names() {
		enabled, err := a.wanted(name)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"feature": name,
				"error":   err,
			}).Error("Invalid feature settings, leaving it disabled")
			continue
		}
		if !enabled {
			continue
		}
		// Start failures are logged by the registry.
		_ = a.features.Enable(ctx, name)
	}

	s := a.Settings()
	if s.Webhooks.Enabled && s.Webhooks.SyncSchedule != "" {
		if err := a.syncer.Schedule(s.Webhooks.SyncSchedule); err != nil {
			a.logger.WithError(err).Warn("Webhook sync schedule rejected")
		}
	}
	return nil
}

// wanted reports whether the settings switch the feature on, and whether its section is valid.
func (a *App) wanted(name string) (bool, error) {
	s := a.Settings()
	var on bool
	switch name {
	case httpapi.FeatureName:
		on = s.HTTP.Enabled
	case wsfeed.FeatureName:
		on = s.WebSocket.Enabled
	case webhook.FeatureName:
		on = s.Webhooks.Enabled
	case osc.FeatureName:
		on = s.OSC.Enabled
	case discovery.FeatureName:
		on = s.MDNS.Enabled
	case display.FeatureName:
		on = true
	default:
		return false, fmt.Errorf("%w: %s", feature.ErrUnknownFeature, name)
	}
	if !on {
		return false, nil
	}
	return true, a.validate(name)
}

// validate checks the settings section a feature is built from.
func (a *App) validate(name string) error {
	s := a.Settings()
	switch name {
	case httpapi.FeatureName:
		return s.HTTP.Validate()
	case wsfeed.FeatureName:
		return s.WebSocket.Validate()
	case webhook.FeatureName:
		return s.Webhooks.Validate()
	case osc.FeatureName:
		return s.OSC.Validate()
	case discovery.FeatureName, display.FeatureName:
		return nil
	}
	return fmt.Errorf("%w: %s", feature.ErrUnknownFeature, name)
}

// SetFeature switches a feature at runtime and records the choice in the settings.
func (a *App) SetFeature(ctx context.Context, name string, enabled bool) error {
	if err := a.features.Set(ctx, name, enabled); err != nil {
		return err
	}
	a.updateSettings(func(s *config.Settings) {
		switch name {
		case httpapi.FeatureName:
			s.HTTP.Enabled = enabled
		case wsfeed.FeatureName:
			s.WebSocket.Enabled = enabled
		case webhook.FeatureName:
			s.Webhooks.Enabled = enabled
		case osc.FeatureName:
			s.OSC.Enabled = enabled
		case discovery.FeatureName:
			s.MDNS.Enabled = enabled
		}
	})
	return nil
}

// ToggleFeature flips a feature and returns its new state. Enabling a feature
// whose settings section is invalid fails without touching the registry.
func (a *App) ToggleFeature(ctx context.Context, name string) (bool, error) {
	enable := !a.features.Enabled(name)
	if enable {
		if err := a.validate(name); err != nil {
			return false, err
		}
	}
	if err := a.SetFeature(ctx, name, enable); err != nil {
		return a.features.Enabled(name), err
	}
	return enable, nil
}

// Connect starts a sensor session.
func (a *App) Connect(ctx context.Context, address string) error {
	if err := a.monitor.Connect(ctx, address); err != nil {
		return err
	}
	if a.opts.RememberDevice {
		a.updateSettings(func(s *config.Settings) { s.DeviceAddress = address })
	}
	return nil
}

// Disconnect ends the sensor session.
func (a *App) Disconnect() error {
	return a.monitor.Disconnect()
}

// Reconnect starts a new session with the last used address, falling back to the saved one.
func (a *App) Reconnect(ctx context.Context) error {
	address := a.store.Get().Address
	if address == "" {
		address = a.Settings().DeviceAddress
	}
	if address == "" {
		return ErrNoDevice
	}
	return a.Connect(ctx, address)
}

// Run starts everything, connects to address and blocks until ctx ends or the
// terminal display quits. The app is shut down before Run returns.
func (a *App) Run(ctx context.Context, address string) error {
	if address == "" {
		return ErrNoDevice
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := a.Shutdown(context.Background()); err != nil {
			a.logger.WithError(err).Warn("Shutdown finished with errors")
		}
	}()

	if err := a.Connect(ctx, address); err != nil {
		return err
	}

	var quit <-chan struct{}
	if a.display != nil {
		quit = a.display.Done()
	}
	select {
	case <-ctx.Done():
	case <-quit:
		a.logger.Info("Display closed")
	}
	return nil
}

// Shutdown disconnects the sensor, waits for the last update to be forwarded
// and stops every feature. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.syncer.Stop()
		a.monitor.Close()
		if a.runDone != nil {
			<-a.runDone
			a.runCancel()
		}
		err = a.features.StopAll(ctx)
		a.dispatcher.Close()
		a.logger.Debug("Shutdown complete")
	})
	return err
}

// Settings returns a copy of the current settings.
func (a *App) Settings() config.Settings {
	a.settingsMu.Lock()
	defer a.settingsMu.Unlock()
	return *a.settings
}

func (a *App) updateSettings(fn func(s *config.Settings)) {
	a.settingsMu.Lock()
	defer a.settingsMu.Unlock()

	fn(a.settings)
	if a.opts.SettingsPath == "" {
		return
	}
	if err := config.SaveSettings(a.opts.SettingsPath, a.settings); err != nil {
		a.logger.WithError(err).Warn("Failed to save settings")
	}
}

func (a *App) saveOverlay(o display.Overlay) {
	a.updateSettings(func(s *config.Settings) {
		s.Overlay = config.OverlaySettings{
			X:             o.X,
			Y:             o.Y,
			Show:          o.Show,
			Locked:        o.Locked,
			Format:        o.Format,
			LockedColor:   o.LockedColor,
			UnlockedColor: o.UnlockedColor,
		}
	})
}

func overlayFromSettings(o config.OverlaySettings) display.Overlay {
	return display.Overlay{
		X:             o.X,
		Y:             o.Y,
		Show:          o.Show,
		Locked:        o.Locked,
		Format:        o.Format,
		LockedColor:   o.LockedColor,
		UnlockedColor: o.UnlockedColor,
	}
}

func (a *App) notices() []string {
	deliveries := a.engine.Drain()
	if len(deliveries) == 0 {
		return nil
	}
	out := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, d.String())
	}
	return out
}

// endpoints is called from inside the registry, so it must not query the registry.
func (a *App) endpoints() discovery.Endpoints {
	var ep discovery.Endpoints
	if a.http.Running() {
		ep.HTTPPort = a.http.Port()
	}
	if a.ws.Running() {
		ep.WebSocketPort = a.ws.Port()
	}
	return ep
}

// Store returns the shared value store.
func (a *App) Store() *hr.Store { return a.store }

// Monitor returns the sensor session controller.
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// Features returns the feature registry.
func (a *App) Features() *feature.Registry { return a.features }

// Dispatcher returns the fan-out dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Webhooks returns the webhook list.
func (a *App) Webhooks() *webhook.Store { return a.hooks }

// Engine returns the webhook engine.
func (a *App) Engine() *webhook.Engine { return a.engine }

// HTTP returns the poll server.
func (a *App) HTTP() *httpapi.Server { return a.http }

// WebSocket returns the broadcaster.
func (a *App) WebSocket() *wsfeed.Server { return a.ws }
