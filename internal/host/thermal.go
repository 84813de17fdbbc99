package host

import (
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/procfs/sysfs"
)

const (
	minSaneCelsius = 0
	maxSaneCelsius = 150
)

// cpuZoneTypes lists thermal zone types that track the CPU package, most
// specific first.
var cpuZoneTypes = []string{
	"x86_pkg_temp",
	"cpu-thermal",
	"cpu_thermal",
	"soc_thermal",
	"acpitz",
}

var errNoThermalZone = errors.New("no usable thermal zone")

// ThermalReader reads the CPU temperature from /sys/class/thermal.
type ThermalReader struct {
	fs sysfs.FS
}

// NewThermalReader opens sysRoot.
func NewThermalReader(sysRoot string) (*ThermalReader, error) {
	fs, err := sysfs.NewFS(sysRoot)
	if err != nil {
		return nil, fmt.Errorf("open sysfs: %w", err)
	}
	return &ThermalReader{fs: fs}, nil
}

// CPUTemperature returns the temperature of the best matching zone in °C.
// Readings outside 0..150 °C are treated as sensor garbage and skipped.
func (r *ThermalReader) CPUTemperature() (float64, error) {
	zones, err := r.fs.ClassThermalZoneStats()
	if err != nil {
		return 0, fmt.Errorf("read thermal zones: %w", err)
	}

	readings := make(map[string]float64, len(zones))
	var fallback *float64
	for _, zone := range zones {
		celsius := float64(zone.Temp) / 1000
		if celsius <= minSaneCelsius || celsius > maxSaneCelsius {
			continue
		}
		zoneType := strings.ToLower(strings.TrimSpace(zone.Type))
		if _, seen := readings[zoneType]; !seen {
			readings[zoneType] = celsius
		}
		if fallback == nil {
			value := celsius
			fallback = &value
		}
	}

	for _, zoneType := range cpuZoneTypes {
		if celsius, ok := readings[zoneType]; ok {
			return celsius, nil
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return 0, errNoThermalZone
}
