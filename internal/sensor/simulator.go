package sensor

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/groutine"
)

// SimulatedAddress is reported for links opened without an address.
const SimulatedAddress = "SIMULATED"

// Simulator is a Source that produces a plausible random walk of heart rate readings.
type Simulator struct {
	Interval time.Duration
	Min, Max int
	Start    int
	logger   *logrus.Logger
}

// NewSimulator creates a simulator emitting one reading per interval.
func NewSimulator(interval time.Duration, logger *logrus.Logger) *Simulator {
	if logger == nil {
		logger = logrus.New()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulator{Interval: interval, Min: 55, Max: 185, Start: 72, logger: logger}
}

func (s *Simulator) Connect(ctx context.Context, address string) (Link, error) {
	if strings.TrimSpace(address) == "" {
		address = SimulatedAddress
	}
	s.logger.WithField("address", address).Info("Simulated sensor connected")

	l := newLink(ctx, DefaultReadingBuffer)
	groutine.Go(l.ctx, "sensor-simulator", func(ctx context.Context) {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		bpm := s.Start
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				bpm += rand.IntN(7) - 3
				bpm = max(s.Min, min(s.Max, bpm))
				l.push(Reading{BPM: bpm, At: t})
			}
		}
	})
	return l, nil
}
