// Package webhook sends heart-rate events to user-configured HTTP endpoints.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/srg/hrmon/internal/hr"
)

const (
	DefaultMethod      = http.MethodPost
	DefaultTimeout     = 10 * time.Second
	DefaultUserAgent   = "HeartRateMonitor-Webhook"
	DefaultContentType = "application/json"

	// DeliveryHeader carries a unique id per request so receivers can de-duplicate.
	DeliveryHeader = "X-Hrmon-Delivery"

	// TestBPM is the synthetic sample sent by Engine.Test.
	TestBPM = 88

	// EventTest marks deliveries made by Engine.Test.
	EventTest hr.Event = "test"
)

var allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// Config is one webhook entry of the webhook file.
// Body and Headers are JSON text that may contain {bpm} and {event} placeholders.
type Config struct {
	ID             string     `json:"id,omitempty"`
	Name           string     `json:"name"`
	Enabled        bool       `json:"enabled"`
	URL            string     `json:"url"`
	Method         string     `json:"method,omitempty"`
	Body           string     `json:"body,omitempty"`
	Headers        string     `json:"headers,omitempty"`
	Triggers       []hr.Event `json:"triggers,omitempty"`
	SkipUnchanged  bool       `json:"skip_unchanged,omitempty"`
	TimeoutSeconds int        `json:"timeout_seconds,omitempty"`
}

// ValidationError rejects a malformed webhook at save time.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid webhook %s: %s", e.Field, e.Msg)
}

// Key identifies the webhook for breakers and change tracking.
func (c Config) Key() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Name
}

// EffectiveMethod returns the upper-cased method, POST when unset.
func (c Config) EffectiveMethod() string {
	if m := strings.ToUpper(strings.TrimSpace(c.Method)); m != "" {
		return m
	}
	return DefaultMethod
}

// Timeout returns the request timeout.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

// Fires reports whether the webhook reacts to the event.
// No triggers means heart_rate_updated only.
func (c Config) Fires(e hr.Event) bool {
	if len(c.Triggers) == 0 {
		return e == hr.EventUpdated
	}
	for _, t := range c.Triggers {
		if t == e {
			return true
		}
	}
	return false
}

// Validate checks the entry with placeholders substituted by a sample value.
// Every problem is reported; use errors.As to get a *ValidationError.
func (c Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.Name) == "" {
		add("name", "is required")
	}

	if err := checkURL(render(c.URL, 0, hr.EventUpdated)); err != nil {
		add("url", "%v", err)
	}

	method := c.EffectiveMethod()
	valid := false
	for _, m := range allowedMethods {
		if m == method {
			valid = true
			break
		}
	}
	if !valid {
		add("method", "%q is not supported", c.Method)
	}

	if body := strings.TrimSpace(c.Body); body != "" {
		if !json.Valid([]byte(render(body, 0, hr.EventUpdated))) {
			add("body", "is not valid JSON")
		}
	}

	if _, err := parseHeaders(render(c.Headers, 0, hr.EventUpdated)); err != nil {
		add("headers", "%v", err)
	}

	for _, t := range c.Triggers {
		if _, err := hr.ParseEvent(string(t)); err != nil {
			add("triggers", "%v", err)
		}
	}

	if c.TimeoutSeconds < 0 {
		add("timeout_seconds", "must not be negative")
	}

	return errors.Join(errs...)
}

// Normalize trims fields and lower-cases triggers in place.
func (c *Config) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.URL = strings.TrimSpace(c.URL)
	if c.Method != "" {
		c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
	}
	for i, t := range c.Triggers {
		if e, err := hr.ParseEvent(string(t)); err == nil {
			c.Triggers[i] = e
		}
	}
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must start with http:// or https://", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
