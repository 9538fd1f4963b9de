package sensor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Advertisement is the part of a BLE advertisement the scanner looks at.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Services() []string
}

// ScanningDevice represents a BLE device capable of scanning for advertisements
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// ScanDeviceFactory creates the scanning device. This is a variable so that it can be overridden in tests.
var ScanDeviceFactory = func() (ScanningDevice, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	return &bleScanningDevice{dev: dev}, nil
}

type bleScanningDevice struct {
	dev ble.Device
}

func (s *bleScanningDevice) Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error {
	return s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(bleAdvertisement{adv: adv})
	})
}

type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a bleAdvertisement) Addr() string      { return a.adv.Addr().String() }
func (a bleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a bleAdvertisement) RSSI() int         { return a.adv.RSSI() }

func (a bleAdvertisement) Services() []string {
	uuids := a.adv.Services()
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, strings.ToLower(u.String()))
	}
	return out
}

// DeviceInfo describes one discovered device.
type DeviceInfo struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	RSSI      int       `json:"rssi"`
	Services  []string  `json:"services"`
	HeartRate bool      `json:"heart_rate"`
	LastSeen  time.Time `json:"last_seen"`
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration      time.Duration
	HeartRateOnly bool
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{Duration: 10 * time.Second}
}

// Scanner handles BLE device discovery
type Scanner struct {
	devices *hashmap.Map[string, DeviceInfo]
	logger  *logrus.Logger
	opts    *ScanOptions
}

// NewScanner creates a new BLE scanner
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{logger: logger}
}

// Scan listens for advertisements for opts.Duration (or until ctx ends) and returns
// the discovered devices, heart rate sensors first, then by signal strength.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progress ProgressCallback) ([]DeviceInfo, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progress == nil {
		progress = func(string) {}
	}
	s.devices = hashmap.New[string, DeviceInfo]()
	s.opts = opts

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progress("Scanning")

	dev, err := ScanDeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	err = dev.Scan(ctx, false, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	progress("Processing results")
	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")

	out := make([]DeviceInfo, 0, s.devices.Len())
	s.devices.Range(func(_ string, info DeviceInfo) bool {
		out = append(out, info)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].HeartRate != out[j].HeartRate {
			return out[i].HeartRate
		}
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv Advertisement) {
	services := adv.Services()
	hasHR := false
	for _, u := range services {
		if isHeartRateService(u) {
			hasHR = true
			break
		}
	}

	addr := adv.Addr()
	info, existing := s.devices.Get(addr)
	if !existing && s.opts.HeartRateOnly && !hasHR {
		return
	}

	info.Address = addr
	info.RSSI = adv.RSSI()
	info.LastSeen = time.Now()
	if name := adv.LocalName(); name != "" {
		info.Name = name
	}
	if len(services) > 0 {
		info.Services = services
	}
	info.HeartRate = info.HeartRate || hasHR
	s.devices.Set(addr, info)

	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device":     info.Name,
			"address":    addr,
			"rssi":       info.RSSI,
			"heart_rate": info.HeartRate,
		}).Info("Discovered new device")
	}
}

func isHeartRateService(uuid string) bool {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	return u == HeartRateServiceUUID || u == "0000180d00001000800000805f9b34fb"
}
