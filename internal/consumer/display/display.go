// Package display renders the live heart rate in the terminal: a label, a movable
// overlay panel and a log pane. When stdout is not a terminal, Printer writes plain lines instead.
package display

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/hr"
	"github.com/srg/hrmon/internal/ringchan"
	"golang.org/x/term"
)

const (
	FeatureName = "display"

	updateBuffer = 32
	logBuffer    = 256
)

// Options configures the terminal display.
type Options struct {
	Overlay  Overlay
	LogLines int
	// Notices is polled on every tick for extra log lines.
	Notices func() []string
	// OnOverlayChange is called from the UI goroutine after lock, visibility or position changes.
	OnOverlayChange func(Overlay)

	// OnDisconnect and OnReconnect control the sensor session.
	// They run outside the UI goroutine; a returned error is shown in the log pane.
	OnDisconnect func() error
	OnReconnect  func() error
	// OnToggle flips one of Features and returns whether it is now enabled.
	OnToggle func(feature string) (bool, error)
	// Features are bound to the keys 1-9 for OnToggle.
	Features []string

	Input     io.Reader
	Output    io.Writer
	AltScreen bool
}

// Display runs the bubbletea program while enabled. Deliver never blocks:
// updates are queued on a drop-oldest channel that the model drains on its tick.
type Display struct {
	opts    Options
	logger  *logrus.Logger
	updates *ringchan.RingChannel[hr.Update]
	logs    *ringchan.RingChannel[string]

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

// New creates a stopped display.
func New(opts Options, logger *logrus.Logger) *Display {
	if logger == nil {
		logger = logrus.New()
	}
	return &Display{
		opts:    opts,
		logger:  logger,
		updates: ringchan.New[hr.Update](updateBuffer),
		logs:    ringchan.New[string](logBuffer),
	}
}

func (d *Display) Name() string { return FeatureName }

// Start launches the program and routes log output into the log pane until it exits.
func (d *Display) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.program != nil {
		return nil
	}

	var opts []tea.ProgramOption
	if d.opts.Input != nil {
		opts = append(opts, tea.WithInput(d.opts.Input))
	}
	if d.opts.Output != nil {
		opts = append(opts, tea.WithOutput(d.opts.Output))
	}
	if d.opts.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}

	p := tea.NewProgram(NewModel(d.opts, d.updates, d.logs), opts...)
	done := make(chan struct{})
	restore := RedirectLogs(d.logger, d.logs)

	d.program = p
	d.done = done

	groutine.Go(context.Background(), "display", func(context.Context) {
		defer close(done)
		_, err := p.Run()
		restore()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			d.logger.WithError(err).Error("Display stopped with an error")
		}
	})
	return nil
}

// Stop quits the program and waits for the terminal to be restored.
func (d *Display) Stop(context.Context) error {
	d.mu.Lock()
	p, done := d.program, d.done
	d.program, d.done = nil, nil
	d.mu.Unlock()

	if p == nil {
		return nil
	}
	p.Quit()
	<-done
	return nil
}

// Done is closed when the program exits, including when the user quits.
// It is nil while stopped.
func (d *Display) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func (d *Display) Deliver(_ context.Context, u hr.Update) error {
	d.updates.Send(u)
	return nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
