package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/hrmon/internal/app"
	"github.com/srg/hrmon/internal/consumer/webhook"
	"github.com/srg/hrmon/internal/feature"
	"github.com/srg/hrmon/internal/sensor"
	"github.com/srg/hrmon/pkg/config"
)

// FormatUserError turns an error into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var (
		notFound   *sensor.NotFoundError
		startErr   *feature.StartError
		hookErr    *webhook.ValidationError
		settingErr *config.FieldError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sensor.ErrTimeout):
		return "timed out; make sure the sensor is on, nearby and not paired to another app"
	case errors.Is(err, sensor.ErrAlreadyConnected):
		return "a sensor session is already running"
	case errors.Is(err, sensor.ErrNotConnected):
		return "no sensor is connected"
	case sensor.IsConnectionState(err, sensor.Disconnected):
		return "the sensor disconnected"
	case errors.Is(err, sensor.ErrEmptyAddress):
		return "no device address given"
	case errors.As(err, &notFound):
		return fmt.Sprintf("the device has no usable heart rate data: %s", notFound.Error())
	case errors.Is(err, app.ErrNoDevice):
		return err.Error()
	case errors.Is(err, webhook.ErrNotFound):
		return err.Error()
	case errors.As(err, &startErr):
		return fmt.Sprintf("%s output could not start: %v", startErr.Feature, startErr.Err)
	case errors.As(err, &hookErr), errors.As(err, &settingErr):
		return "invalid configuration: " + flatten(err)
	}
	return flatten(err)
}

// flatten joins multi-line errors (errors.Join) into one line.
func flatten(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	return strings.Join(lines, "; ")
}
