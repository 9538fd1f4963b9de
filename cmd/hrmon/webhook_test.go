//go:build test

package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/srg/hrmon/internal/consumer/webhook"
	"github.com/srg/hrmon/internal/hr"
	"github.com/srg/hrmon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type WebhookCommandTestSuite struct {
	CommandTestSuite

	srv *httptest.Server

	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	status   int
}

func (s *WebhookCommandTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.requests = nil
	s.bodies = nil
	s.status = http.StatusOK

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, r)
		s.bodies = append(s.bodies, string(body))
		status := s.status
		s.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("received"))
	}))
}

func (s *WebhookCommandTestSuite) TearDownTest() {
	s.srv.Close()
}

func (s *WebhookCommandTestSuite) hooksFile() string {
	return filepath.Join(s.Dir, webhook.DefaultFile)
}

func (s *WebhookCommandTestSuite) savedHooks() []webhook.Config {
	data, err := os.ReadFile(s.hooksFile())
	s.Require().NoError(err, "webhook file MUST exist")
	var hooks []webhook.Config
	s.Require().NoError(json.Unmarshal(data, &hooks))
	return hooks
}

func (s *WebhookCommandTestSuite) TestListEmpty() {
	// GOAL: Verify list works without a webhook file
	//
	// TEST SCENARIO: no file → list → "No webhooks configured"

	out, _, err := s.Execute("webhook", "list")
	s.Require().NoError(err, "list MUST succeed without a file")
	s.Contains(out, "No webhooks configured")
}

func (s *WebhookCommandTestSuite) TestAddListRemove() {
	// GOAL: Verify the add → list → remove cycle against the webhook file next to the settings
	//
	// TEST SCENARIO: add with triggers and headers → file holds one entry → list shows it → remove → empty

	out, _, err := s.Execute("webhook", "add",
		"--name", "discord",
		"--url", s.srv.URL+"/hook",
		"--body", `{"content":"{bpm} bpm"}`,
		"--headers", `{"X-Token":"abc"}`,
		"--trigger", "Connected,heart_rate_updated",
		"--skip-unchanged",
	)
	s.Require().NoError(err, "add MUST succeed")
	s.Contains(out, "Saved webhook discord")

	hooks := s.savedHooks()
	s.Require().Len(hooks, 1)
	s.Equal("discord", hooks[0].Name)
	s.True(hooks[0].Enabled, "added webhook MUST be enabled by default")
	s.Equal("POST", hooks[0].Method)
	s.Equal([]hr.Event{hr.EventConnected, hr.EventUpdated}, hooks[0].Triggers, "triggers MUST be normalized")
	s.True(hooks[0].SkipUnchanged)
	s.NotEmpty(hooks[0].ID, "saved webhook MUST get an id")

	out, _, err = s.Execute("webhook", "list")
	s.Require().NoError(err)
	s.Contains(out, "discord")
	s.Contains(out, "connected,heart_rate_updated")

	out, _, err = s.Execute("webhook", "remove", "discord")
	s.Require().NoError(err, "remove MUST succeed")
	s.Contains(out, "Removed webhook discord")
	s.Empty(s.savedHooks())
}

func (s *WebhookCommandTestSuite) TestAddSameNameReplaces() {
	// GOAL: Verify adding an existing name updates it in place
	//
	// TEST SCENARIO: add twice with different URLs → one entry, same id, second URL

	_, _, err := s.Execute("webhook", "add", "--name", "a", "--url", s.srv.URL+"/one")
	s.Require().NoError(err)
	first := s.savedHooks()[0]

	_, _, err = s.Execute("webhook", "add", "--name", "a", "--url", s.srv.URL+"/two", "--disabled")
	s.Require().NoError(err)

	hooks := s.savedHooks()
	s.Require().Len(hooks, 1, "same name MUST NOT create a second entry")
	s.Equal(first.ID, hooks[0].ID)
	s.Equal(s.srv.URL+"/two", hooks[0].URL)
	s.False(hooks[0].Enabled)
}

func (s *WebhookCommandTestSuite) TestAddRejectsInvalid() {
	// GOAL: Verify add refuses malformed entries and writes nothing
	//
	// TEST SCENARIO: add with ftp:// URL and broken body → ValidationError → no file

	_, _, err := s.Execute("webhook", "add", "--name", "bad", "--url", "ftp://example.com", "--body", "{not json")
	s.Require().Error(err, "invalid webhook MUST be rejected")

	var verr *webhook.ValidationError
	s.ErrorAs(err, &verr)
	s.Contains(FormatUserError(err), "invalid configuration")
	s.Contains(FormatUserError(err), "body")

	_, statErr := os.Stat(s.hooksFile())
	s.True(os.IsNotExist(statErr), "rejected webhook MUST NOT be saved")
}

func (s *WebhookCommandTestSuite) TestRemoveUnknown() {
	// GOAL: Verify remove reports unknown names
	//
	// TEST SCENARIO: remove missing → ErrNotFound

	_, _, err := s.Execute("webhook", "remove", "missing")
	s.ErrorIs(err, webhook.ErrNotFound)
}

func (s *WebhookCommandTestSuite) TestTestSendsSample() {
	// GOAL: Verify test fires a disabled webhook once with the sample reading
	//
	// TEST SCENARIO: add disabled webhook with templates → test → one request with bpm and event substituted

	_, _, err := s.Execute("webhook", "add", "--disabled",
		"--name", "probe",
		"--url", s.srv.URL+"/probe?event={event}",
		"--body", `{"bpm":{bpm}}`,
		"--trigger", "disconnected",
	)
	s.Require().NoError(err)

	out, _, err := s.Execute("webhook", "test", "probe")
	s.Require().NoError(err, "test MUST succeed on a 200 response")
	s.Contains(out, "webhook probe (test, 88 bpm): 200")
	s.Contains(out, "received", "response excerpt MUST be printed")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().Len(s.requests, 1, "test MUST send exactly one request")
	s.Equal("test", s.requests[0].URL.Query().Get("event"))
	testutils.NewJSONAsserter(s.T()).Assert(s.bodies[0], `{"bpm":88}`)
	s.NotEmpty(s.requests[0].Header.Get(webhook.DeliveryHeader))
}

func (s *WebhookCommandTestSuite) TestTestReportsHTTPFailure() {
	// GOAL: Verify a non-2xx answer fails the command
	//
	// TEST SCENARIO: server answers 500 → test → ErrHTTPStatus

	_, _, err := s.Execute("webhook", "add", "--name", "broken", "--url", s.srv.URL)
	s.Require().NoError(err)

	s.mu.Lock()
	s.status = http.StatusInternalServerError
	s.mu.Unlock()

	_, _, err = s.Execute("webhook", "test", "broken")
	s.ErrorIs(err, webhook.ErrHTTPStatus)
}

func (s *WebhookCommandTestSuite) TestValidate() {
	// GOAL: Verify validate reports each entry and fails when any is invalid
	//
	// TEST SCENARIO: file with one good and one bad entry → validate → both listed, error returned

	data := `[
		{"name": "good", "enabled": true, "url": "` + s.srv.URL + `"},
		{"name": "bad", "enabled": true, "url": "nope", "method": "TRACE"}
	]`
	s.Require().NoError(os.WriteFile(s.hooksFile(), []byte(data), 0o644))

	out, _, err := s.Execute("webhook", "validate")
	s.Require().Error(err, "validate MUST fail when an entry is invalid")
	s.Contains(out, "good: ok")
	s.Contains(out, "bad: ")
	s.Contains(out, "method")
}

func (s *WebhookCommandTestSuite) TestSync() {
	// GOAL: Verify sync replaces the local file with the downloaded list
	//
	// TEST SCENARIO: local entry "old" → sync from a server serving two entries → file has the two entries

	_, _, err := s.Execute("webhook", "add", "--name", "old", "--url", s.srv.URL)
	s.Require().NoError(err)

	preset := `[{"name":"p1","enabled":false,"url":"https://example.com/a"},{"name":"p2","enabled":false,"url":"https://example.com/b"}]`
	presetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(preset))
	}))
	defer presetSrv.Close()

	out, _, err := s.Execute("webhook", "sync", "--url", presetSrv.URL)
	s.Require().NoError(err, "sync MUST succeed")
	s.Contains(out, "Synced 2 webhooks")

	hooks := s.savedHooks()
	s.Require().Len(hooks, 2)
	s.Equal("p1", hooks[0].Name)
	s.Equal("p2", hooks[1].Name)
}

func (s *WebhookCommandTestSuite) TestSyncRejectsGarbage() {
	// GOAL: Verify a broken download leaves the local file alone
	//
	// TEST SCENARIO: local entry → sync from a server serving HTML → error, local entry kept

	_, _, err := s.Execute("webhook", "add", "--name", "keep", "--url", s.srv.URL)
	s.Require().NoError(err)

	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>rate limited</html>"))
	}))
	defer badSrv.Close()

	_, _, err = s.Execute("webhook", "sync", "--url", badSrv.URL)
	s.Require().Error(err)

	hooks := s.savedHooks()
	s.Require().Len(hooks, 1)
	s.Equal("keep", hooks[0].Name)
}

func TestWebhookCommandTestSuite(t *testing.T) {
	suite.Run(t, new(WebhookCommandTestSuite))
}
