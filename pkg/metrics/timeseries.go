package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mjasion/balena-home/victron/pkg/devices"
	"github.com/mjasion/balena-home/victron/pkg/types"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Metric names exported for decoded Victron readouts
const (
	MetricInputVoltage  = "victron_input_voltage_volts"
	MetricOutputVoltage = "victron_output_voltage_volts"
	MetricDeviceState   = "victron_device_state"
	MetricChargerError  = "victron_charger_error"
	MetricOffReason     = "victron_off_reason"
	MetricRSSI          = "victron_rssi_dbm"
)

type namedValue struct {
	name  string
	value float64
}

// BuildVictronTimeSeries builds Prometheus time series for decoded readouts.
// One series per metric and device; the output voltage is skipped while the
// converter reports it as not available.
func BuildVictronTimeSeries(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildVictronTimeSeries")
	defer span.End()

	type deviceKey struct {
		name    string
		id      int
		mac     string
		modelID uint16
	}

	var order []deviceKey
	grouped := make(map[deviceKey][]*types.VictronReading)
	for _, r := range readings {
		if r.Type != types.ReadingTypeVictron || r.Victron == nil {
			continue
		}
		v := r.Victron
		key := deviceKey{name: v.DeviceName, id: v.DeviceID, mac: v.MAC, modelID: v.ModelID}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], v)
	}

	if len(order) == 0 {
		span.SetStatus(codes.Ok, "no victron readings")
		return nil, nil
	}

	var timeSeries []prompb.TimeSeries
	for _, key := range order {
		labels := []prompb.Label{
			{Name: "device_id", Value: fmt.Sprintf("%d", key.id)},
			{Name: "device_name", Value: key.name},
			{Name: "mac", Value: key.mac},
			{Name: "model_id", Value: fmt.Sprintf("0x%04X", key.modelID)},
		}

		var names []string
		samples := make(map[string][]prompb.Sample)
		for _, r := range grouped[key] {
			ts := r.Timestamp.UnixMilli()
			for _, nv := range recordValues(r) {
				if _, ok := samples[nv.name]; !ok {
					names = append(names, nv.name)
				}
				samples[nv.name] = append(samples[nv.name], prompb.Sample{Value: nv.value, Timestamp: ts})
			}
		}

		for _, name := range names {
			seriesLabels := make([]prompb.Label, 0, len(labels)+1)
			seriesLabels = append(seriesLabels, prompb.Label{Name: "__name__", Value: name})
			seriesLabels = append(seriesLabels, labels...)
			timeSeries = append(timeSeries, prompb.TimeSeries{
				Labels:  seriesLabels,
				Samples: samples[name],
			})
		}
	}

	span.SetAttributes(
		attribute.Int("metrics.victron_devices", len(order)),
		attribute.Int("metrics.victron_time_series_count", len(timeSeries)),
	)
	span.SetStatus(codes.Ok, "victron time series built")

	return timeSeries, nil
}

// recordValues flattens a readout into named sample values
func recordValues(r *types.VictronReading) []namedValue {
	values := []namedValue{{name: MetricRSSI, value: float64(r.RSSI)}}

	switch rec := r.Record.(type) {
	case *devices.DcDcConverter:
		values = append(values,
			namedValue{name: MetricDeviceState, value: float64(rec.DeviceState)},
			namedValue{name: MetricChargerError, value: float64(rec.ChargerError)},
			namedValue{name: MetricInputVoltage, value: rec.InputVolts()},
			namedValue{name: MetricOffReason, value: float64(rec.OffReason)},
		)
		if v, ok := rec.OutputVolts(); ok {
			values = append(values, namedValue{name: MetricOutputVoltage, value: v})
		}
	case nil:
	default:
		// numeric fields of record types without a dedicated mapping
		fields := rec.Fields()
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if f, ok := toFloat(fields[k]); ok {
				values = append(values, namedValue{name: "victron_" + k, value: f})
			}
		}
	}

	return values
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// BuildMetricTimeSeries builds Prometheus time series for generic metric readings
func BuildMetricTimeSeries(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildMetricTimeSeries")
	defer span.End()

	type metricKey struct {
		name   string
		labels string
	}

	var order []metricKey
	grouped := make(map[metricKey][]*types.MetricReading)
	for _, r := range readings {
		if r.Type != types.ReadingTypeMetric || r.Metric == nil {
			continue
		}
		key := metricKey{name: r.Metric.Name, labels: serializeLabels(r.Metric.Labels)}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], r.Metric)
	}

	if len(order) == 0 {
		span.SetStatus(codes.Ok, "no metric readings")
		return nil, nil
	}

	var timeSeries []prompb.TimeSeries
	for _, key := range order {
		group := grouped[key]

		labels := []prompb.Label{{Name: "__name__", Value: key.name}}
		labels = append(labels, sortedLabels(group[0].Labels)...)

		samples := make([]prompb.Sample, 0, len(group))
		for _, r := range group {
			samples = append(samples, prompb.Sample{
				Value:     r.Value,
				Timestamp: r.Timestamp.UnixMilli(),
			})
		}

		timeSeries = append(timeSeries, prompb.TimeSeries{
			Labels:  labels,
			Samples: samples,
		})
	}

	span.SetAttributes(
		attribute.Int("metrics.generic_time_series_count", len(timeSeries)),
	)
	span.SetStatus(codes.Ok, "generic time series built")

	return timeSeries, nil
}

// CombineBuilders combines multiple time series builders into one
func CombineBuilders(builders ...TimeSeriesBuilder) TimeSeriesBuilder {
	return func(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
		var allTimeSeries []prompb.TimeSeries

		for _, builder := range builders {
			if builder == nil {
				continue
			}

			timeSeries, err := builder(ctx, readings)
			if err != nil {
				return nil, err
			}

			allTimeSeries = append(allTimeSeries, timeSeries...)
		}

		return allTimeSeries, nil
	}
}

func sortedLabels(labels map[string]string) []prompb.Label {
	result := make([]prompb.Label, 0, len(labels))
	for k, v := range labels {
		result = append(result, prompb.Label{Name: k, Value: v})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func serializeLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, l := range sortedLabels(labels) {
		sb.WriteString(l.Name)
		sb.WriteByte('=')
		sb.WriteString(l.Value)
		sb.WriteByte(',')
	}
	return sb.String()
}
