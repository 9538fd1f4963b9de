//go:build !darwin && !linux

package sensor

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: no BLE backend for %s", ErrUnsupported, runtime.GOOS)
}
