package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// DefaultSettingsFile is the settings path used when --config is not given.
const DefaultSettingsFile = "config.json"

// BPMPlaceholder is substituted with the current reading in every format template.
const BPMPlaceholder = "{bpm}"

// Settings is the persisted application document. Zero-valued fields are filled
// from the `default` tags before the file is decoded on top, so a key missing
// from the file keeps its default while an explicit false or 0 is preserved.
type Settings struct {
	DeviceAddress string          `json:"device_address" yaml:"device_address"`
	Overlay       OverlaySettings `json:"overlay" yaml:"overlay"`
	HTTP          HTTPSettings    `json:"http" yaml:"http"`
	WebSocket     WSSettings      `json:"websocket" yaml:"websocket"`
	OSC           OSCSettings     `json:"osc" yaml:"osc"`
	MDNS          MDNSSettings    `json:"mdns" yaml:"mdns"`
	Webhooks      WebhookSettings `json:"webhooks" yaml:"webhooks"`
	Display       DisplaySettings `json:"display" yaml:"display"`
}

type OverlaySettings struct {
	X             int    `json:"x" yaml:"x"`
	Y             int    `json:"y" yaml:"y"`
	Show          bool   `json:"show" yaml:"show"`
	Locked        bool   `json:"locked" yaml:"locked"`
	Format        string `json:"format" yaml:"format" default:"Heart rate: {bpm}"`
	LockedColor   string `json:"locked_color" yaml:"locked_color" default:"#FF6600"`
	UnlockedColor string `json:"unlocked_color" yaml:"unlocked_color" default:"#00FF00"`
}

type HTTPSettings struct {
	Enabled bool   `json:"enabled" yaml:"enabled" default:"true"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port" default:"8000"`
}

type WSSettings struct {
	Enabled bool   `json:"enabled" yaml:"enabled" default:"true"`
	Host    string `json:"host" yaml:"host" default:"0.0.0.0"`
	Port    int    `json:"port" yaml:"port" default:"8765"`
}

type OSCSettings struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Host        string   `json:"host" yaml:"host" default:"127.0.0.1"`
	Port        int      `json:"port" yaml:"port" default:"9000"`
	Address     string   `json:"address" yaml:"address" default:"/chatbox/input"`
	Format      string   `json:"format" yaml:"format" default:"❤️ {bpm}"`
	MinInterval Duration `json:"min_interval" yaml:"min_interval"`
}

type MDNSSettings struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Instance string `json:"instance" yaml:"instance"`
}

type WebhookSettings struct {
	Enabled bool   `json:"enabled" yaml:"enabled" default:"true"`
	File    string `json:"file" yaml:"file" default:"config_webhook.json"`
	// SyncURL overrides the built-in remote copy location.
	SyncURL string `json:"sync_url" yaml:"sync_url"`
	// SyncSchedule is a cron spec; empty disables periodic sync.
	SyncSchedule string `json:"sync_schedule" yaml:"sync_schedule"`
}

type DisplaySettings struct {
	LogLines  int  `json:"log_lines" yaml:"log_lines" default:"8"`
	AltScreen bool `json:"alt_screen" yaml:"alt_screen" default:"true"`
}

// FieldError reports one invalid settings value.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// DefaultSettings returns a document holding only default values.
func DefaultSettings() *Settings {
	s := &Settings{}
	defaults.SetDefaults(s)
	return s
}

// LoadSettings reads the document at path. A missing file yields defaults;
// an unreadable or malformed file is an error.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, s)
	} else {
		err = json.Unmarshal(data, s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return s, nil
}

// SaveSettings writes s to path, replacing the file atomically.
func SaveSettings(path string, s *Settings) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(s); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	} else {
		data, err = json.MarshalIndent(s, "", "    ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write settings %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", path, err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Validate checks every section and joins all problems.
func (s *Settings) Validate() error {
	return errors.Join(
		s.Overlay.Validate(),
		s.HTTP.Validate(),
		s.WebSocket.Validate(),
		s.OSC.Validate(),
		s.Webhooks.Validate(),
	)
}

func (o OverlaySettings) Validate() error {
	return errors.Join(
		checkFormat("overlay.format", o.Format),
		checkColor("overlay.locked_color", o.LockedColor),
		checkColor("overlay.unlocked_color", o.UnlockedColor),
	)
}

func (h HTTPSettings) Validate() error {
	return checkPort("http.port", h.Port)
}

func (w WSSettings) Validate() error {
	return checkPort("websocket.port", w.Port)
}

func (o OSCSettings) Validate() error {
	var errs []error
	if o.Host == "" {
		errs = append(errs, &FieldError{Field: "osc.host", Msg: "is required"})
	}
	errs = append(errs, checkPort("osc.port", o.Port))
	if !strings.HasPrefix(o.Address, "/") {
		errs = append(errs, &FieldError{Field: "osc.address", Msg: "must start with /"})
	}
	errs = append(errs, checkFormat("osc.format", o.Format))
	if o.MinInterval < 0 {
		errs = append(errs, &FieldError{Field: "osc.min_interval", Msg: "must not be negative"})
	}
	return errors.Join(errs...)
}

func (w WebhookSettings) Validate() error {
	if w.File == "" {
		return &FieldError{Field: "webhooks.file", Msg: "is required"}
	}
	return nil
}

func checkPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &FieldError{Field: field, Msg: fmt.Sprintf("port %d out of range 1-65535", port)}
	}
	return nil
}

var colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

func checkColor(field, color string) error {
	if !colorPattern.MatchString(color) {
		return &FieldError{Field: field, Msg: fmt.Sprintf("%q is not a #RGB or #RRGGBB color", color)}
	}
	return nil
}

func checkFormat(field, format string) error {
	if !strings.Contains(format, BPMPlaceholder) {
		return &FieldError{Field: field, Msg: "must contain " + BPMPlaceholder}
	}
	return nil
}

// Duration is a time.Duration stored as a string such as "1.5s".
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
