//go:build test

package main

import (
	"testing"
	"time"

	"github.com/srg/hrmon/internal/app"
	"github.com/srg/hrmon/internal/testutils"
	"github.com/srg/hrmon/pkg/config"
	"github.com/stretchr/testify/suite"
)

type RunCommandTestSuite struct {
	CommandTestSuite

	originalInterval time.Duration
}

func (s *RunCommandTestSuite) SetupSuite() {
	s.originalInterval = simulatorInterval
	simulatorInterval = 20 * time.Millisecond
}

func (s *RunCommandTestSuite) TearDownSuite() {
	simulatorInterval = s.originalInterval
}

func (s *RunCommandTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()

	settings := config.DefaultSettings()
	settings.HTTP.Host = "127.0.0.1"
	settings.HTTP.Port = testutils.FreePort(s.T())
	settings.WebSocket.Host = "127.0.0.1"
	settings.WebSocket.Port = testutils.FreePort(s.T())
	s.WriteSettings(settings)
}

func (s *RunCommandTestSuite) TestSimulatedRunPrintsUpdates() {
	// GOAL: Verify a simulated run without a terminal prints one line per update and stops after --duration
	//
	// TEST SCENARIO: run --simulate --no-display --duration 400ms → returns nil → output has connected and update lines

	start := time.Now()
	out, _, err := s.Execute("run", "--simulate", "--no-display", "--duration", "400ms")
	s.Require().NoError(err, "a run ended by --duration MUST succeed")
	s.Less(time.Since(start), 5*time.Second, "run MUST stop soon after --duration")

	s.Contains(out, "connected", "printer MUST show the connect event")
	s.Contains(out, "heart_rate_updated", "printer MUST show readings")
}

func (s *RunCommandTestSuite) TestSimulatedRunDoesNotRememberDevice() {
	// GOAL: Verify simulated sessions never overwrite the saved sensor address
	//
	// TEST SCENARIO: saved address A → run --simulate with address B → settings still hold A

	settings := s.LoadSettings()
	settings.DeviceAddress = "AA:AA:AA:AA:AA:AA"
	s.WriteSettings(settings)

	_, _, err := s.Execute("run", "SIM-B", "--simulate", "--no-display", "--duration", "200ms")
	s.Require().NoError(err)
	s.Equal("AA:AA:AA:AA:AA:AA", s.LoadSettings().DeviceAddress)
}

func (s *RunCommandTestSuite) TestRunWithoutDevice() {
	// GOAL: Verify run explains how to pick a device when none is known
	//
	// TEST SCENARIO: no address anywhere, real BLE source → ErrNoDevice with a hint

	_, _, err := s.Execute("run", "--no-display", "--duration", "200ms")
	s.Require().ErrorIs(err, app.ErrNoDevice)
	s.Contains(FormatUserError(err), "scan with --save")
}

func (s *RunCommandTestSuite) TestRunRejectsBadEnv() {
	// GOAL: Verify malformed HRMON_* overrides stop the run before anything starts
	//
	// TEST SCENARIO: HRMON_WS_PORT=abc → run → invalid configuration error naming the variable

	s.T().Setenv(config.EnvWSPort, "abc")

	_, _, err := s.Execute("run", "--simulate", "--no-display", "--duration", "200ms")
	s.Require().Error(err)
	msg := FormatUserError(err)
	s.Contains(msg, "invalid configuration")
	s.Contains(msg, config.EnvWSPort)
}

func (s *RunCommandTestSuite) TestRunRejectsBadLogLevel() {
	// GOAL: Verify --log-level is validated
	//
	// TEST SCENARIO: run --log-level loud → error naming the flag

	_, _, err := s.Execute("run", "--simulate", "--log-level", "loud")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid log level from --log-level: loud")
}

func TestRunCommandTestSuite(t *testing.T) {
	suite.Run(t, new(RunCommandTestSuite))
}
