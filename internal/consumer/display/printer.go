package display

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/srg/hrmon/internal/hr"
)

// Printer writes one line per update. It stands in for the terminal display when output is piped.
type Printer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time

	live *color.Color
	idle *color.Color
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		w:    w,
		now:  time.Now,
		live: color.New(color.FgGreen, color.Bold),
		idle: color.New(color.FgRed),
	}
}

func (p *Printer) Name() string { return FeatureName }

func (p *Printer) Start(context.Context) error { return nil }

func (p *Printer) Stop(context.Context) error { return nil }

func (p *Printer) Deliver(_ context.Context, u hr.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.idle
	if u.Snapshot.BPM > 0 {
		c = p.live
	}
	_, err := fmt.Fprintf(p.w, "%s %-18s %s %s\n",
		p.now().Format("15:04:05"),
		u.Event,
		c.Sprintf("%3d bpm", u.Snapshot.BPM),
		u.Snapshot.Status(),
	)
	return err
}
