package devices

import (
	"errors"
	"fmt"

	"github.com/mjasion/balena-home/victron/pkg/bitreader"
)

// ReadoutTypeDcDcConverter is the readout type of Orion DC/DC converters.
const ReadoutTypeDcDcConverter uint8 = 0x04

// OutputVoltageNotAvailable is reported while the converter output is off.
const OutputVoltageNotAvailable int16 = 0x7FFF

func init() {
	Register(ReadoutTypeDcDcConverter, func(data []byte) (Record, error) {
		return DecodeDcDcConverter(data)
	})
}

// DcDcConverter is the Instant Readout of a DC/DC converter.
// Voltages are in units of 0.01 V.
type DcDcConverter struct {
	DeviceState   DeviceState
	ChargerError  uint8
	InputVoltage  uint16
	OutputVoltage int16
	OffReason     uint32
}

// DecodeDcDcConverter reads the converter fields in wire order. Any short
// read fails the whole record with ErrNotEnoughData.
func DecodeDcDcConverter(data []byte) (*DcDcConverter, error) {
	rdr := bitreader.New(data)
	var d DcDcConverter

	state, err := rdr.ReadU8(8)
	if err != nil {
		return nil, fieldError("device_state", err)
	}
	d.DeviceState = DeviceState(state)

	if d.ChargerError, err = rdr.ReadU8(8); err != nil {
		return nil, fieldError("charger_error", err)
	}
	if d.InputVoltage, err = rdr.ReadU16(16); err != nil {
		return nil, fieldError("input_voltage", err)
	}
	if d.OutputVoltage, err = rdr.ReadI16(16); err != nil {
		return nil, fieldError("output_voltage", err)
	}
	if d.OffReason, err = rdr.ReadU32(32); err != nil {
		return nil, fieldError("off_reason", err)
	}

	return &d, nil
}

// fieldError marks short reads as ErrNotEnoughData; any other reader error
// is a schema bug and passes through unclassified.
func fieldError(field string, err error) error {
	if errors.Is(err, bitreader.ErrNotEnoughData) {
		return fmt.Errorf("%w: dc-dc converter %s: %w", ErrNotEnoughData, field, err)
	}
	return fmt.Errorf("dc-dc converter %s: %w", field, err)
}

// ReadoutType implements Record.
func (d *DcDcConverter) ReadoutType() uint8 {
	return ReadoutTypeDcDcConverter
}

// InputVolts returns the input voltage in volts.
func (d *DcDcConverter) InputVolts() float64 {
	return float64(d.InputVoltage) / 100
}

// OutputVolts returns the output voltage in volts, ok is false while the
// output is not available.
func (d *DcDcConverter) OutputVolts() (v float64, ok bool) {
	if d.OutputVoltage == OutputVoltageNotAvailable {
		return 0, false
	}
	return float64(d.OutputVoltage) / 100, true
}

// Fields implements Record.
func (d *DcDcConverter) Fields() map[string]any {
	fields := map[string]any{
		"device_state":  d.DeviceState.String(),
		"charger_error": d.ChargerError,
		"input_volts":   d.InputVolts(),
		"off_reason":    fmt.Sprintf("0x%08X", d.OffReason),
	}
	if v, ok := d.OutputVolts(); ok {
		fields["output_volts"] = v
	}
	return fields
}
