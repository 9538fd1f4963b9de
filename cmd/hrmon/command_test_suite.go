//go:build test

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/hrmon/pkg/config"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs hrmon commands against a temporary settings file.
// All cmd/hrmon test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	Dir          string
	SettingsPath string
}

// SetupTest points --config at an empty temp dir and resets every flag,
// since cobra keeps parsed values in package variables between runs.
func (s *CommandTestSuite) SetupTest() {
	s.Dir = s.T().TempDir()
	s.SettingsPath = filepath.Join(s.Dir, config.DefaultSettingsFile)
	resetFlags(rootCmd)
	s.T().Setenv(config.EnvDevice, "")
	s.T().Setenv(config.EnvLogLevel, "")
}

// WriteSettings saves s as the settings file used by the next command.
func (s *CommandTestSuite) WriteSettings(settings *config.Settings) {
	s.Require().NoError(config.SaveSettings(s.SettingsPath, settings), "settings MUST be written")
}

// LoadSettings reads back the settings file.
func (s *CommandTestSuite) LoadSettings() *config.Settings {
	loaded, err := config.LoadSettings(s.SettingsPath)
	s.Require().NoError(err, "settings MUST load")
	return loaded
}

// Execute runs hrmon with args plus --config and --env-file for the temp dir.
// Stdout and stderr are returned separately.
func (s *CommandTestSuite) Execute(args ...string) (stdout, stderr string, err error) {
	args = append(args, "--config", s.SettingsPath, "--env-file", filepath.Join(s.Dir, ".env"))
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
	}()
	err = rootCmd.Execute()
	return out.String(), errOut.String(), err
}

// ExecuteCommand runs a cobra command with args, returns combined output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// CaptureStdout executes fn while capturing stdout, returns captured output.
// Stdout is restored even if fn panics.
func (s *CommandTestSuite) CaptureStdout(fn func()) string {
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	s.Require().NoError(err, "pipe creation MUST succeed")
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	fn()

	w.Close()
	out, _ := io.ReadAll(r)
	return string(out)
}

// resetFlags restores every flag of cmd and its children to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
