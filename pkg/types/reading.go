package types

import (
	"time"

	"github.com/mjasion/balena-home/victron/pkg/devices"
)

// ReadingType identifies the type of buffered reading
type ReadingType string

const (
	ReadingTypeVictron ReadingType = "victron"
	ReadingTypeMetric  ReadingType = "metric"
)

// Reading is a union type that can hold different types of readings
type Reading struct {
	Type    ReadingType
	Victron *VictronReading
	Metric  *MetricReading
}

// VictronReading is a decoded Instant Readout from a configured device
type VictronReading struct {
	Timestamp   time.Time
	MAC         string
	DeviceName  string // Friendly name from config
	DeviceID    int    // Numeric ID from config
	ModelID     uint16
	ReadoutType uint8
	IV          uint16
	RSSI        int16
	Record      devices.Record
}

// MetricReading represents a generic metric reading (e.g., decode counters)
type MetricReading struct {
	Timestamp time.Time
	Name      string
	Value     float64
	Labels    map[string]string
}

// GetTimestamp returns the timestamp of the reading regardless of type
func (r *Reading) GetTimestamp() time.Time {
	switch r.Type {
	case ReadingTypeVictron:
		return r.Victron.Timestamp
	case ReadingTypeMetric:
		return r.Metric.Timestamp
	default:
		return time.Time{}
	}
}
