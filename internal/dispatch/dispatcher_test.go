//go:build test

package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/hrmon/internal/dispatch"
	"github.com/srg/hrmon/internal/hr"
	"github.com/stretchr/testify/suite"
)

// recordingConsumer collects every update it receives.
type recordingConsumer struct {
	name string
	mu   sync.Mutex
	got  []hr.Update
	fn   func(u hr.Update) error
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) Deliver(_ context.Context, u hr.Update) error {
	c.mu.Lock()
	c.got = append(c.got, u)
	c.mu.Unlock()
	if c.fn != nil {
		return c.fn(u)
	}
	return nil
}

func (c *recordingConsumer) received() []hr.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hr.Update(nil), c.got...)
}

type DispatcherTestSuite struct {
	suite.Suite
	logger *logrus.Logger
	hook   *test.Hook
	d      *dispatch.Dispatcher
}

func (s *DispatcherTestSuite) SetupTest() {
	s.logger, s.hook = test.NewNullLogger()
	s.logger.SetLevel(logrus.DebugLevel)
	s.d = dispatch.New(0, s.logger)
}

func (s *DispatcherTestSuite) TearDownTest() {
	s.d.Close()
}

func update(event hr.Event, bpm int) hr.Update {
	return hr.Update{Event: event, Snapshot: hr.Snapshot{BPM: bpm, Connected: bpm > 0}}
}

func (s *DispatcherTestSuite) TestDeliversInOrder() {
	// GOAL: Each consumer sees updates in publish order
	//
	// TEST SCENARIO: publish 50 updates → consumer receives all 50 with increasing Seq

	c := &recordingConsumer{name: "ordered"}
	_, err := s.d.Register(c)
	s.Require().NoError(err)

	for i := 1; i <= 50; i++ {
		s.d.Publish(update(hr.EventUpdated, i))
	}

	s.Require().Eventually(func() bool { return len(c.received()) == 50 }, time.Second, 5*time.Millisecond)
	got := c.received()
	for i, u := range got {
		s.Assert().Equal(i+1, u.Snapshot.BPM, "updates MUST arrive in publish order")
		if i > 0 {
			s.Assert().Greater(u.Seq, got[i-1].Seq)
		}
	}
}

func (s *DispatcherTestSuite) TestFailingConsumerIsIsolated() {
	// GOAL: A failing or panicking consumer never affects the others
	//
	// TEST SCENARIO: one consumer errors, one panics, one is healthy → healthy one gets everything

	failing := &recordingConsumer{name: "failing", fn: func(hr.Update) error { return errors.New("refused") }}
	panicking := &recordingConsumer{name: "panicking", fn: func(hr.Update) error { panic("boom") }}
	healthy := &recordingConsumer{name: "healthy"}

	for _, c := range []*recordingConsumer{failing, panicking, healthy} {
		_, err := s.d.Register(c)
		s.Require().NoError(err)
	}

	for i := 1; i <= 3; i++ {
		s.d.Publish(update(hr.EventUpdated, 60+i))
	}

	s.Require().Eventually(func() bool {
		return len(healthy.received()) == 3 && len(failing.received()) == 3 && len(panicking.received()) == 3
	}, time.Second, 5*time.Millisecond)

	s.Require().Eventually(func() bool {
		for _, st := range s.d.Stats() {
			if st.Name == "healthy" && st.Delivered != 3 {
				return false
			}
			if st.Name != "healthy" && st.Failed != 3 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond, "stats MUST count failures per consumer")
}

func (s *DispatcherTestSuite) TestSlowConsumerDoesNotBlock() {
	// GOAL: Publish never blocks on a slow consumer
	//
	// TEST SCENARIO: consumer blocks forever → 1000 publishes complete quickly → fast consumer still served

	release := make(chan struct{})
	slow := &recordingConsumer{name: "slow", fn: func(hr.Update) error {
		<-release
		return nil
	}}
	fast := &recordingConsumer{name: "fast"}

	_, err := s.d.Register(slow)
	s.Require().NoError(err)
	_, err = s.d.Register(fast)
	s.Require().NoError(err)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		s.d.Publish(update(hr.EventUpdated, 70))
	}
	s.Assert().Less(time.Since(start), 500*time.Millisecond, "Publish MUST NOT block")

	s.Require().Eventually(func() bool { return len(fast.received()) > 0 }, time.Second, 5*time.Millisecond)

	var slowStats dispatch.Stats
	for _, st := range s.d.Stats() {
		if st.Name == "slow" {
			slowStats = st
		}
	}
	s.Assert().Positive(slowStats.Dropped, "slow consumer MUST drop oldest updates once its queue is full")
	close(release)
}

func (s *DispatcherTestSuite) TestNoDeliveryAfterClose() {
	// GOAL: A disabled consumer receives no dispatch calls
	//
	// TEST SCENARIO: register → deliver one → Close → publish more → count unchanged

	c := &recordingConsumer{name: "toggled"}
	reg, err := s.d.Register(c)
	s.Require().NoError(err)

	s.d.Publish(update(hr.EventConnected, 0))
	s.Require().Eventually(func() bool { return len(c.received()) == 1 }, time.Second, 5*time.Millisecond)

	reg.Close()
	reg.Close()

	for i := 0; i < 10; i++ {
		s.d.Publish(update(hr.EventUpdated, 80))
	}
	time.Sleep(50 * time.Millisecond)

	s.Assert().Len(c.received(), 1, "no Deliver call MUST happen after Close")
	s.Assert().Empty(s.d.Stats())
}

func (s *DispatcherTestSuite) TestRunConsumesChannel() {
	in := make(chan hr.Update)
	c := &recordingConsumer{name: "runner"}
	_, err := s.d.Register(c)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.d.Run(ctx, in) }()

	in <- update(hr.EventConnected, 0)
	in <- update(hr.EventUpdated, 75)
	close(in)

	s.Require().NoError(<-errCh, "Run MUST return nil once the input closes")
	s.Require().Eventually(func() bool { return len(c.received()) == 2 }, time.Second, 5*time.Millisecond)
	s.Assert().Equal(hr.EventConnected, c.received()[0].Event)
}

func (s *DispatcherTestSuite) TestRunStopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.d.Run(ctx, make(chan hr.Update))
	s.Assert().ErrorIs(err, context.Canceled)
}

func (s *DispatcherTestSuite) TestRegisterAfterClose() {
	s.d.Close()

	_, err := s.d.Register(&recordingConsumer{name: "late"})
	s.Assert().ErrorIs(err, dispatch.ErrClosed)
}

func (s *DispatcherTestSuite) TestConsumerFunc() {
	var got hr.Update
	done := make(chan struct{})
	_, err := s.d.Register(dispatch.ConsumerFunc{
		ConsumerName: "func",
		Fn: func(_ context.Context, u hr.Update) error {
			got = u
			close(done)
			return nil
		},
	})
	s.Require().NoError(err)

	s.d.Publish(update(hr.EventUpdated, 99))

	select {
	case <-done:
	case <-time.After(time.Second):
		s.FailNow("ConsumerFunc was not called")
	}
	s.Assert().Equal(99, got.Snapshot.BPM)
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}
