// Package stats counts advertisement outcomes per device and reports them
// on a cron schedule.
package stats

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mjasion/balena-home/victron/pkg/devices"
	"github.com/mjasion/balena-home/victron/pkg/readout"
)

// Outcome is the result of handling one advertisement
type Outcome string

const (
	OutcomeDecoded       Outcome = "decoded"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeInvalidData   Outcome = "invalid_data"
	OutcomeInvalidKey    Outcome = "invalid_key"
	OutcomeDecryptFailed Outcome = "decrypt_failed"
	OutcomeUnsupported   Outcome = "unsupported"
	OutcomeDecodeError   Outcome = "decode_error"
)

// Classify maps a decode error to its outcome. A nil error is OutcomeDecoded.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeDecoded
	case errors.Is(err, readout.ErrInvalidData):
		return OutcomeInvalidData
	case errors.Is(err, readout.ErrInvalidKey):
		return OutcomeInvalidKey
	case errors.Is(err, readout.ErrDecryptFailed):
		return OutcomeDecryptFailed
	case errors.Is(err, devices.ErrUnsupportedReadoutType):
		return OutcomeUnsupported
	default:
		return OutcomeDecodeError
	}
}

// Stats holds cumulative outcome counters per device
type Stats struct {
	mu      sync.Mutex
	counts  map[string]map[Outcome]uint64
	counter metric.Int64Counter
}

// New creates Stats that also mirror every outcome into an OTel counter
// created on meter.
func New(meter metric.Meter) (*Stats, error) {
	counter, err := meter.Int64Counter("victron.advertisements",
		metric.WithDescription("Victron advertisements handled, by device and outcome"),
		metric.WithUnit("{advertisement}"),
	)
	if err != nil {
		return nil, err
	}

	return &Stats{
		counts:  make(map[string]map[Outcome]uint64),
		counter: counter,
	}, nil
}

// Record counts one outcome for device
func (s *Stats) Record(ctx context.Context, device string, outcome Outcome) {
	s.mu.Lock()
	perDevice, ok := s.counts[device]
	if !ok {
		perDevice = make(map[Outcome]uint64)
		s.counts[device] = perDevice
	}
	perDevice[outcome]++
	s.mu.Unlock()

	s.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device", device),
		attribute.String("outcome", string(outcome)),
	))
}

// DeviceCounts is a snapshot of one device's counters
type DeviceCounts struct {
	Device string
	Counts map[Outcome]uint64
}

// Total returns the sum over all outcomes
func (d DeviceCounts) Total() uint64 {
	var total uint64
	for _, n := range d.Counts {
		total += n
	}
	return total
}

// Snapshot copies the counters, sorted by device name
func (s *Stats) Snapshot() []DeviceCounts {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]DeviceCounts, 0, len(s.counts))
	for device, counts := range s.counts {
		c := make(map[Outcome]uint64, len(counts))
		for k, v := range counts {
			c[k] = v
		}
		result = append(result, DeviceCounts{Device: device, Counts: c})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Device < result[j].Device })
	return result
}
