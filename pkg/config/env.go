package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override settings.
const (
	EnvDevice   = "HRMON_DEVICE"
	EnvLogLevel = "HRMON_LOG_LEVEL"
	EnvHTTPPort = "HRMON_HTTP_PORT"
	EnvWSPort   = "HRMON_WS_PORT"
	EnvOSCHost  = "HRMON_OSC_HOST"
	EnvOSCPort  = "HRMON_OSC_PORT"
)

// LoadEnvFile loads variables from a dotenv file without overriding ones already set.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides s with any HRMON_* variables present in the environment.
func (s *Settings) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvDevice); ok && v != "" {
		s.DeviceAddress = v
	}
	if v, ok := os.LookupEnv(EnvOSCHost); ok && v != "" {
		s.OSC.Host = v
	}

	ports := []struct {
		name string
		dst  *int
	}{
		{EnvHTTPPort, &s.HTTP.Port},
		{EnvWSPort, &s.WebSocket.Port},
		{EnvOSCPort, &s.OSC.Port},
	}
	for _, p := range ports {
		v, ok := os.LookupEnv(p.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &FieldError{Field: p.name, Msg: fmt.Sprintf("%q is not a port number", v)}
		}
		*p.dst = n
	}
	return nil
}
