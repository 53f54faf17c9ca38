package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mjasion/balena-home/victron/pkg/devices"
	"github.com/mjasion/balena-home/victron/pkg/types"
	"github.com/prometheus/prometheus/prompb"
)

func victronReading(ts time.Time, outputVoltage int16) *types.Reading {
	return &types.Reading{
		Type: types.ReadingTypeVictron,
		Victron: &types.VictronReading{
			Timestamp:   ts,
			MAC:         "AA:BB:CC:DD:EE:FF",
			DeviceName:  "orion",
			DeviceID:    1,
			ModelID:     0xA3C0,
			ReadoutType: devices.ReadoutTypeDcDcConverter,
			RSSI:        -70,
			Record: &devices.DcDcConverter{
				DeviceState:   devices.StateBulk,
				ChargerError:  0,
				InputVoltage:  1315,
				OutputVoltage: outputVoltage,
				OffReason:     0x80,
			},
		},
	}
}

func findSeries(series []prompb.TimeSeries, name string) *prompb.TimeSeries {
	for i := range series {
		for _, l := range series[i].Labels {
			if l.Name == "__name__" && l.Value == name {
				return &series[i]
			}
		}
	}
	return nil
}

func labelValue(ts *prompb.TimeSeries, name string) string {
	for _, l := range ts.Labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

func TestBuildVictronTimeSeries(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	readings := []*types.Reading{
		victronReading(ts, 1250),
		victronReading(ts.Add(time.Second), devices.OutputVoltageNotAvailable),
	}

	series, err := BuildVictronTimeSeries(context.Background(), readings)
	if err != nil {
		t.Fatalf("BuildVictronTimeSeries() error = %v", err)
	}
	if len(series) != 6 {
		t.Fatalf("Expected 6 time series, got %d", len(series))
	}

	input := findSeries(series, MetricInputVoltage)
	if input == nil {
		t.Fatal("input voltage series missing")
	}
	if len(input.Samples) != 2 {
		t.Fatalf("Expected 2 input samples, got %d", len(input.Samples))
	}
	if input.Samples[0].Value != 13.15 {
		t.Errorf("Expected 13.15 V, got %v", input.Samples[0].Value)
	}
	if input.Samples[0].Timestamp != ts.UnixMilli() {
		t.Errorf("Expected timestamp %d, got %d", ts.UnixMilli(), input.Samples[0].Timestamp)
	}
	if got := labelValue(input, "model_id"); got != "0xA3C0" {
		t.Errorf("Expected model_id 0xA3C0, got %s", got)
	}
	if got := labelValue(input, "device_name"); got != "orion" {
		t.Errorf("Expected device_name orion, got %s", got)
	}

	// Not-available output voltage is skipped, so only one sample remains
	output := findSeries(series, MetricOutputVoltage)
	if output == nil {
		t.Fatal("output voltage series missing")
	}
	if len(output.Samples) != 1 || output.Samples[0].Value != 12.5 {
		t.Errorf("Expected single 12.5 V sample, got %+v", output.Samples)
	}

	state := findSeries(series, MetricDeviceState)
	if state == nil || state.Samples[0].Value != float64(devices.StateBulk) {
		t.Errorf("Expected device state %d, got %+v", devices.StateBulk, state)
	}

	offReason := findSeries(series, MetricOffReason)
	if offReason == nil || offReason.Samples[0].Value != 128 {
		t.Errorf("Expected off reason 128, got %+v", offReason)
	}

	rssi := findSeries(series, MetricRSSI)
	if rssi == nil || rssi.Samples[0].Value != -70 {
		t.Errorf("Expected rssi -70, got %+v", rssi)
	}
}

func TestBuildVictronTimeSeries_OnlyUnavailableOutput(t *testing.T) {
	readings := []*types.Reading{victronReading(time.Now(), devices.OutputVoltageNotAvailable)}

	series, err := BuildVictronTimeSeries(context.Background(), readings)
	if err != nil {
		t.Fatalf("BuildVictronTimeSeries() error = %v", err)
	}
	if findSeries(series, MetricOutputVoltage) != nil {
		t.Error("Expected no output voltage series when output is not available")
	}
}

type genericRecord struct{}

func (genericRecord) ReadoutType() uint8 { return 0xF1 }
func (genericRecord) Fields() map[string]any {
	return map[string]any{"battery_volts": 12.8, "load_amps": uint16(3), "mode": "on"}
}

func TestBuildVictronTimeSeries_GenericRecord(t *testing.T) {
	readings := []*types.Reading{{
		Type: types.ReadingTypeVictron,
		Victron: &types.VictronReading{
			Timestamp:  time.Now(),
			MAC:        "11:22:33:44:55:66",
			DeviceName: "other",
			DeviceID:   2,
			Record:     genericRecord{},
		},
	}}

	series, err := BuildVictronTimeSeries(context.Background(), readings)
	if err != nil {
		t.Fatalf("BuildVictronTimeSeries() error = %v", err)
	}
	if findSeries(series, "victron_battery_volts") == nil {
		t.Error("Expected victron_battery_volts series")
	}
	if findSeries(series, "victron_load_amps") == nil {
		t.Error("Expected victron_load_amps series")
	}
	if findSeries(series, "victron_mode") != nil {
		t.Error("Non-numeric fields must not produce series")
	}
}

func TestBuildMetricTimeSeries(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	readings := []*types.Reading{
		{Type: types.ReadingTypeMetric, Metric: &types.MetricReading{
			Timestamp: ts, Name: "victron_decode_total", Value: 3,
			Labels: map[string]string{"result": "ok", "device_name": "orion"},
		}},
		{Type: types.ReadingTypeMetric, Metric: &types.MetricReading{
			Timestamp: ts.Add(time.Minute), Name: "victron_decode_total", Value: 5,
			Labels: map[string]string{"device_name": "orion", "result": "ok"},
		}},
		{Type: types.ReadingTypeMetric, Metric: &types.MetricReading{
			Timestamp: ts, Name: "victron_decode_total", Value: 1,
			Labels: map[string]string{"result": "invalid_key", "device_name": "orion"},
		}},
		victronReading(ts, 1200),
	}

	series, err := BuildMetricTimeSeries(context.Background(), readings)
	if err != nil {
		t.Fatalf("BuildMetricTimeSeries() error = %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("Expected 2 time series, got %d", len(series))
	}
	if len(series[0].Samples) != 2 {
		t.Errorf("Expected 2 samples in the first series, got %d", len(series[0].Samples))
	}

	// Labels are sorted with __name__ first
	want := []string{"__name__", "device_name", "result"}
	for i, l := range series[0].Labels {
		if l.Name != want[i] {
			t.Errorf("Label %d: expected %s, got %s", i, want[i], l.Name)
		}
	}
}

func TestBuilders_NoReadings(t *testing.T) {
	if series, err := BuildVictronTimeSeries(context.Background(), nil); err != nil || series != nil {
		t.Errorf("Expected nil, nil; got %v, %v", series, err)
	}
	if series, err := BuildMetricTimeSeries(context.Background(), nil); err != nil || series != nil {
		t.Errorf("Expected nil, nil; got %v, %v", series, err)
	}
}

func TestCombineBuilders(t *testing.T) {
	ts := time.Now()
	readings := []*types.Reading{
		victronReading(ts, 1200),
		{Type: types.ReadingTypeMetric, Metric: &types.MetricReading{Timestamp: ts, Name: "m", Value: 1}},
	}

	combined := CombineBuilders(BuildVictronTimeSeries, nil, BuildMetricTimeSeries)
	series, err := combined(context.Background(), readings)
	if err != nil {
		t.Fatalf("combined builder error = %v", err)
	}
	if len(series) != 7 {
		t.Errorf("Expected 7 time series, got %d", len(series))
	}

	failing := CombineBuilders(BuildVictronTimeSeries, func(context.Context, []*types.Reading) ([]prompb.TimeSeries, error) {
		return nil, errors.New("boom")
	})
	if _, err := failing(context.Background(), readings); err == nil {
		t.Error("Expected error from failing builder")
	}
}
