package stats

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/pkg/buffer"
	"github.com/mjasion/balena-home/victron/pkg/types"
)

// MetricAdvertisements is the metric name of buffered outcome counters
const MetricAdvertisements = "victron_advertisements_total"

// Reporter periodically logs the counters and buffers them as metric
// readings for the Prometheus pusher.
type Reporter struct {
	cron     *cron.Cron
	stats    *Stats
	buffer   *buffer.RingBuffer[*types.Reading]
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewReporter schedules Report every interval. Call Start to begin.
func NewReporter(s *Stats, buf *buffer.RingBuffer[*types.Reading], interval time.Duration, logger *zap.Logger) (*Reporter, error) {
	r := &Reporter{
		cron:     cron.New(),
		stats:    s,
		buffer:   buf,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}

	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), r.Report); err != nil {
		return nil, fmt.Errorf("failed to schedule stats report: %w", err)
	}

	return r, nil
}

// Start runs the schedule in the background
func (r *Reporter) Start() {
	r.logger.Info("stats reporter started", zap.Duration("report_interval", r.interval))
	r.cron.Start()
}

// Stop stops the schedule and waits for a running report to finish
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("stats reporter stopped")
}

// Report logs one summary line per device and buffers one cumulative
// counter reading per device and outcome.
func (r *Reporter) Report() {
	snapshot := r.stats.Snapshot()
	if len(snapshot) == 0 {
		r.logger.Info("no advertisements received yet")
		return
	}

	ts := r.now()
	var readings []*types.Reading
	for _, dc := range snapshot {
		fields := []zap.Field{
			zap.String("device_name", dc.Device),
			zap.Uint64("total", dc.Total()),
		}
		for _, outcome := range outcomes {
			n, ok := dc.Counts[outcome]
			if !ok {
				continue
			}
			fields = append(fields, zap.Uint64(string(outcome), n))
			readings = append(readings, &types.Reading{
				Type: types.ReadingTypeMetric,
				Metric: &types.MetricReading{
					Timestamp: ts,
					Name:      MetricAdvertisements,
					Value:     float64(n),
					Labels: map[string]string{
						"device_name": dc.Device,
						"outcome":     string(outcome),
					},
				},
			})
		}
		r.logger.Info("advertisement stats", fields...)
	}

	if r.buffer != nil {
		r.buffer.AddMultiple(readings)
	}
}

// outcomes fixes the reporting order
var outcomes = []Outcome{
	OutcomeDecoded,
	OutcomeDuplicate,
	OutcomeInvalidData,
	OutcomeInvalidKey,
	OutcomeDecryptFailed,
	OutcomeUnsupported,
	OutcomeDecodeError,
}
