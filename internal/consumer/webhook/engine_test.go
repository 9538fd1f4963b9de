//go:build test

package webhook_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker/v2"
	"github.com/srg/hrmon/internal/consumer/webhook"
	"github.com/srg/hrmon/internal/hr"
	"github.com/stretchr/testify/suite"
)

type staticHooks []webhook.Config

func (s staticHooks) List() []webhook.Config { return s }

type captured struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

type EngineTestSuite struct {
	suite.Suite
	srv    *httptest.Server
	status int

	mu   sync.Mutex
	reqs []captured
}

func (s *EngineTestSuite) SetupTest() {
	s.reqs = nil
	s.status = http.StatusOK
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.reqs = append(s.reqs, captured{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   string(body),
		})
		status := s.status
		s.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "ack")
	}))
}

func (s *EngineTestSuite) TearDownTest() {
	s.srv.Close()
}

func (s *EngineTestSuite) respondWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *EngineTestSuite) requests() []captured {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]captured(nil), s.reqs...)
}

func (s *EngineTestSuite) engine(hooks ...webhook.Config) *webhook.Engine {
	logger, _ := test.NewNullLogger()
	e := webhook.NewEngine(staticHooks(hooks), logger)
	s.Require().NoError(e.Start(context.Background()))
	s.T().Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func (s *EngineTestSuite) hook(name string, triggers ...hr.Event) webhook.Config {
	return webhook.Config{
		ID:       name + "-id",
		Name:     name,
		Enabled:  true,
		URL:      s.srv.URL + "/hook?bpm={bpm}",
		Body:     `{"bpm": {bpm}, "event": "{event}"}`,
		Triggers: triggers,
	}
}

func update(event hr.Event, bpm int, connected bool) hr.Update {
	return hr.Update{Event: event, Snapshot: hr.Snapshot{BPM: bpm, Connected: connected}}
}

func (s *EngineTestSuite) TestConnectTriggerFiresOncePerConnection() {
	// GOAL: A webhook triggered on "connected" fires once per Connected transition and never on readings
	//
	// TEST SCENARIO: connected → 3 readings → disconnected → connected → exactly 2 requests

	e := s.engine(s.hook("on-connect", hr.EventConnected))
	ctx := context.Background()

	s.Require().NoError(e.Deliver(ctx, update(hr.EventConnected, 0, true)))
	for _, bpm := range []int{70, 71, 72} {
		s.Require().NoError(e.Deliver(ctx, update(hr.EventUpdated, bpm, true)))
	}
	s.Require().NoError(e.Deliver(ctx, update(hr.EventDisconnected, 0, false)))
	s.Require().NoError(e.Deliver(ctx, update(hr.EventConnected, 0, true)))
	e.Wait()

	reqs := s.requests()
	s.Require().Len(reqs, 2)
	for _, r := range reqs {
		s.Assert().JSONEq(`{"bpm": 0, "event": "connected"}`, r.Body)
	}
}

func (s *EngineTestSuite) TestDefaultTriggerIsEveryReading() {
	e := s.engine(s.hook("every"))
	ctx := context.Background()

	s.Require().NoError(e.Deliver(ctx, update(hr.EventConnected, 0, true)))
	s.Require().NoError(e.Deliver(ctx, update(hr.EventUpdated, 72, true)))
	s.Require().NoError(e.Deliver(ctx, update(hr.EventUpdated, 72, true)))
	e.Wait()

	reqs := s.requests()
	s.Require().Len(reqs, 2, "unchanged readings MUST still fire by default")
	s.Assert().Equal("bpm=72", reqs[0].Query)
	s.Assert().Equal(http.MethodPost, reqs[0].Method)
}

func (s *EngineTestSuite) TestSkipUnchanged() {
	h := s.hook("changes-only")
	h.SkipUnchanged = true
	e := s.engine(h)
	ctx := context.Background()

	for _, bpm := range []int{72, 72, 73, 73, 72} {
		s.Require().NoError(e.Deliver(ctx, update(hr.EventUpdated, bpm, true)))
		e.Wait()
	}

	s.Assert().Len(s.requests(), 3)
}

func (s *EngineTestSuite) TestDisabledHookIsSkipped() {
	h := s.hook("off")
	h.Enabled = false
	e := s.engine(h)

	s.Require().NoError(e.Deliver(context.Background(), update(hr.EventUpdated, 90, true)))
	e.Wait()

	s.Assert().Empty(s.requests())
}

func (s *EngineTestSuite) TestHeaders() {
	h := s.hook("headers")
	h.Headers = `{"X-Token": "t-{bpm}"}`
	e := s.engine(h)

	s.Require().NoError(e.Deliver(context.Background(), update(hr.EventUpdated, 65, true)))
	e.Wait()

	reqs := s.requests()
	s.Require().Len(reqs, 1)
	s.Assert().Equal("t-65", reqs[0].Header.Get("X-Token"))
	s.Assert().Equal(webhook.DefaultUserAgent, reqs[0].Header.Get("User-Agent"))
	s.Assert().Equal(webhook.DefaultContentType, reqs[0].Header.Get("Content-Type"))
	s.Assert().Len(reqs[0].Header.Get(webhook.DeliveryHeader), 26, "delivery id MUST be a ULID")
}

func (s *EngineTestSuite) TestTestFiresSyntheticSample() {
	h := s.hook("probe", hr.EventDisconnected)
	h.Enabled = false
	e := s.engine()

	d := e.Test(context.Background(), h)

	s.Assert().True(d.OK(), d.String())
	s.Assert().Equal(webhook.TestBPM, d.BPM)
	s.Assert().Equal(http.StatusOK, d.Status)
	s.Assert().Equal("ack", d.Response)

	reqs := s.requests()
	s.Require().Len(reqs, 1)
	s.Assert().JSONEq(`{"bpm": 88, "event": "test"}`, reqs[0].Body)
}

func (s *EngineTestSuite) TestHistoryRecordsFailures() {
	s.respondWith(http.StatusInternalServerError)
	e := s.engine(s.hook("broken"))

	s.Require().NoError(e.Deliver(context.Background(), update(hr.EventUpdated, 70, true)))
	e.Wait()

	got := e.Drain()
	s.Require().Len(got, 1)
	s.Assert().False(got[0].OK())
	s.Assert().ErrorIs(got[0].Err, webhook.ErrHTTPStatus)
	s.Assert().Equal(http.StatusInternalServerError, got[0].Status)
	s.Assert().Empty(e.Drain(), "Drain MUST remove what it returns")
}

func (s *EngineTestSuite) TestBreakerOpensAfterRepeatedFailures() {
	// GOAL: A dead endpoint fails fast once its breaker opens
	//
	// TEST SCENARIO: BreakerFailures failing requests → next delivery is rejected without a request

	s.respondWith(http.StatusBadGateway)
	e := s.engine(s.hook("flaky"))

	for i := 0; i < webhook.BreakerFailures; i++ {
		s.Require().NoError(e.Deliver(context.Background(), update(hr.EventUpdated, 70+i, true)))
		e.Wait()
	}
	s.Require().Len(s.requests(), webhook.BreakerFailures)
	e.Drain()

	s.Require().NoError(e.Deliver(context.Background(), update(hr.EventUpdated, 99, true)))
	e.Wait()

	s.Assert().Len(s.requests(), webhook.BreakerFailures, "open breaker MUST NOT send")
	got := e.Drain()
	s.Require().Len(got, 1)
	s.Assert().ErrorIs(got[0].Err, gobreaker.ErrOpenState)
}

func (s *EngineTestSuite) TestDeliverDoesNotWaitForSlowEndpoint() {
	// GOAL: An unreachable or slow webhook never blocks the caller
	//
	// TEST SCENARIO: endpoint sleeps 2s → Deliver returns immediately → Stop aborts the request

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	defer close(release)

	h := s.hook("slow")
	h.URL = slow.URL
	logger, _ := test.NewNullLogger()
	e := webhook.NewEngine(staticHooks{h}, logger)
	s.Require().NoError(e.Start(context.Background()))

	start := time.Now()
	s.Require().NoError(e.Deliver(context.Background(), update(hr.EventUpdated, 80, true)))
	s.Assert().Less(time.Since(start), 100*time.Millisecond)

	s.Require().NoError(e.Stop(context.Background()))
	s.Assert().Less(time.Since(start), time.Second, "Stop MUST abort in-flight requests")
}

func (s *EngineTestSuite) TestStoppedEngineIgnoresUpdates() {
	logger, _ := test.NewNullLogger()
	e := webhook.NewEngine(staticHooks{s.hook("idle")}, logger)

	s.Require().NoError(e.Deliver(context.Background(), update(hr.EventUpdated, 80, true)))
	e.Wait()
	s.Assert().Empty(s.requests())
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
