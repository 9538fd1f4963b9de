// Package osc forwards heart-rate readings as OSC messages, by default to the VRChat chatbox.
package osc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/hr"
	"golang.org/x/time/rate"
)

const (
	FeatureName = "osc"

	DefaultHost    = "127.0.0.1"
	DefaultPort    = 9000
	DefaultAddress = "/chatbox/input"
	DefaultFormat  = "❤️ {bpm}"
)

// Options configures the sender. Zero values fall back to the defaults.
type Options struct {
	Host    string
	Port    int
	Address string
	Format  string
	// MinInterval drops readings that arrive sooner than this after the last sent one.
	MinInterval time.Duration
}

// client is the part of *goosc.Client the sender uses.
type client interface {
	Send(packet goosc.Packet) error
}

// Sender sends one message per non-zero reading: [formatted text, true].
type Sender struct {
	opts    Options
	logger  *logrus.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	client client
}

// New creates a stopped sender.
func New(opts Options, logger *logrus.Logger) *Sender {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &Sender{
		opts:    opts,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (s *Sender) Name() string { return FeatureName }

// Start opens the UDP client. A missing target is logged and leaves the sender idle.
func (s *Sender) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Host == "" || s.opts.Port <= 0 {
		s.logger.WithFields(logrus.Fields{
			"host": s.opts.Host,
			"port": s.opts.Port,
		}).Warn("OSC target not configured, readings will not be sent")
		return nil
	}
	if s.opts.Port > 65535 {
		return fmt.Errorf("invalid OSC port %d", s.opts.Port)
	}

	s.client = goosc.NewClient(s.opts.Host, s.opts.Port)
	s.logger.WithFields(logrus.Fields{
		"target":  fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port),
		"address": s.opts.Address,
	}).Info("OSC sender ready")
	return nil
}

func (s *Sender) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	return nil
}

// Message builds the OSC message for a reading.
func (s *Sender) Message(bpm int) *goosc.Message {
	text := strings.ReplaceAll(s.opts.Format, "{bpm}", strconv.Itoa(bpm))
	return goosc.NewMessage(s.opts.Address, text, true)
}

// Deliver sends connected readings with a heart rate; everything else is ignored.
func (s *Sender) Deliver(_ context.Context, u hr.Update) error {
	if u.Event != hr.EventUpdated || u.Snapshot.BPM <= 0 {
		return nil
	}

	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		s.logger.WithField("bpm", u.Snapshot.BPM).Warn("OSC client not initialized, reading not sent")
		return nil
	}

	if !s.limiter.Allow() {
		s.logger.WithField("bpm", u.Snapshot.BPM).Debug("OSC rate limit, reading skipped")
		return nil
	}

	if err := c.Send(s.Message(u.Snapshot.BPM)); err != nil {
		return fmt.Errorf("failed to send OSC message: %w", err)
	}
	s.logger.WithField("bpm", u.Snapshot.BPM).Debug("OSC message sent")
	return nil
}
