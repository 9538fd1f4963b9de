package sensor

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// HeartRateServiceUUID is the standard 0x180D heart rate service.
	HeartRateServiceUUID = "180d"
	// HeartRateMeasurementUUID is the standard 0x2A37 measurement characteristic.
	HeartRateMeasurementUUID = "2a37"
)

// Measurement flags, first byte of a 0x2A37 notification.
//
//	| 0x10 | 0x8 | 0x4  0x2 | 0x1 |
//	|  rr  | nrg | scs  cnt | fmt |
const (
	flagUint16          = 0x01
	flagContactDetected = 0x02
	flagContactSupport  = 0x04
	flagEnergyExpended  = 0x08
	flagRRPresent       = 0x10
)

// Measurement is one decoded heart rate notification.
type Measurement struct {
	BPM              int
	ContactSupported bool
	Contact          bool
	Energy           int // kJ, -1 when absent
	RR               []time.Duration
}

// ParseMeasurement decodes a heart rate measurement payload.
func ParseMeasurement(data []byte) (Measurement, error) {
	if len(data) < 2 {
		return Measurement{}, fmt.Errorf("heart rate payload too short: %d bytes", len(data))
	}

	flags := data[0]
	m := Measurement{
		ContactSupported: flags&flagContactSupport != 0,
		Contact:          flags&(flagContactSupport|flagContactDetected) == flagContactSupport|flagContactDetected,
		Energy:           -1,
	}

	offset := 1
	if flags&flagUint16 != 0 {
		if len(data) < offset+2 {
			return Measurement{}, fmt.Errorf("heart rate payload too short for 16-bit value: %d bytes", len(data))
		}
		m.BPM = int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
	} else {
		m.BPM = int(data[offset])
		offset++
	}

	if flags&flagEnergyExpended != 0 {
		if len(data) < offset+2 {
			return m, nil
		}
		m.Energy = int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
	}

	if flags&flagRRPresent != 0 {
		rr := data[offset:]
		m.RR = make([]time.Duration, 0, len(rr)/2)
		for i := 0; i+1 < len(rr); i += 2 {
			m.RR = append(m.RR, time.Duration(binary.LittleEndian.Uint16(rr[i:]))*time.Second/1024)
		}
	}

	return m, nil
}
