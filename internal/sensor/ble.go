package sensor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/groutine"
)

// DefaultConnectTimeout bounds dialing plus profile discovery.
const DefaultConnectTimeout = 15 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as sensor.DeviceFactory
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

var (
	heartRateService     = ble.UUID16(0x180d)
	heartRateMeasurement = ble.UUID16(0x2a37)
)

// BLESource connects to heart rate sensors over go-ble.
type BLESource struct {
	connectTimeout time.Duration
	logger         *logrus.Logger
}

// NewBLESource creates a source. A zero timeout selects DefaultConnectTimeout.
func NewBLESource(connectTimeout time.Duration, logger *logrus.Logger) *BLESource {
	if logger == nil {
		logger = logrus.New()
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &BLESource{connectTimeout: connectTimeout, logger: logger}
}

// Connect dials address, subscribes to its heart rate measurement and returns the live link.
// The link ends when ctx is cancelled, the sensor disconnects, or Close is called.
func (s *BLESource) Connect(ctx context.Context, address string) (Link, error) {
	if strings.TrimSpace(address) == "" {
		s.logger.Error("Connection attempt with empty address")
		return nil, ErrEmptyAddress
	}

	s.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": s.connectTimeout,
	}).Info("Connecting to heart rate sensor...")

	dev, err := DeviceFactory()
	if err != nil {
		s.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	s.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		if errors.Is(connCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		s.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	s.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		s.cancelConnection(client)
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	char, err := selectCharacteristic(profile)
	if err != nil {
		s.cancelConnection(client)
		return nil, err
	}
	indicate := char.Property&ble.CharNotify == 0

	s.logger.WithFields(logrus.Fields{
		"address":   address,
		"char_uuid": char.UUID.String(),
		"indicate":  indicate,
	}).Debug("Selected heart rate characteristic")

	l := newLink(ctx, DefaultReadingBuffer)
	l.teardown = func() error {
		unsubErr := NormalizeError(client.Unsubscribe(char, indicate))
		if unsubErr != nil {
			s.logger.WithField("error", unsubErr).Debug("Failed to unsubscribe from heart rate characteristic")
		}
		if err := client.CancelConnection(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to cancel BLE connection")
			return fmt.Errorf("failed to cancel connection: %w", err)
		}
		return nil
	}

	err = client.Subscribe(char, indicate, func(data []byte) {
		m, err := ParseMeasurement(data)
		if err != nil {
			s.logger.WithField("error", err).Debug("Ignoring malformed heart rate notification")
			return
		}
		if m.BPM <= 0 {
			return
		}
		l.push(Reading{BPM: m.BPM, At: time.Now()})
	})
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to subscribe to heart rate notifications: %w", NormalizeError(err))
	}

	// go-ble exposes peer disconnects through Disconnected() on the client
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
			select {
			case <-dc.Disconnected():
				s.logger.WithField("address", address).Warn("Sensor reported disconnection")
				_ = l.shutdown(ErrPeerDisconnected)
			case <-l.Done():
			}
		})
	} else {
		s.logger.Debug("BLE client does not report disconnections")
	}

	s.logger.WithField("address", address).Info("Heart rate sensor connected")
	return l, nil
}

func (s *BLESource) cancelConnection(client ble.Client) {
	if err := client.CancelConnection(); err != nil {
		s.logger.WithField("cancel_error", err).Warn("Failed to cancel connection after setup failure")
	}
}

func notifiable(c *ble.Characteristic) bool {
	return c.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

// selectCharacteristic prefers the standard 0x180D/0x2A37 pair and falls back to
// the first characteristic that can notify or indicate.
func selectCharacteristic(p *ble.Profile) (*ble.Characteristic, error) {
	if p == nil {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{HeartRateServiceUUID, HeartRateMeasurementUUID}}
	}

	for _, svc := range p.Services {
		if !svc.UUID.Equal(heartRateService) {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(heartRateMeasurement) && notifiable(c) {
				return c, nil
			}
		}
	}

	for _, svc := range p.Services {
		for _, c := range svc.Characteristics {
			if notifiable(c) {
				return c, nil
			}
		}
	}

	return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{HeartRateServiceUUID, HeartRateMeasurementUUID}}
}
