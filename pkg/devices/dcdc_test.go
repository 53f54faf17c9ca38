package devices

import (
	"testing"

	"github.com/mjasion/balena-home/victron/pkg/bitreader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dcdcPayload = []byte{
	0x01, 0x02, 0x23, 0x05, 0xff, 0x7f, 0x80, 0x00, 0x00, 0x00, 0xcb, 0xdd, 0x49, 0x4c,
	0xc5, 0xd1,
}

func TestDecodeDcDcConverter(t *testing.T) {
	d, err := DecodeDcDcConverter(dcdcPayload)
	require.NoError(t, err)

	assert.Equal(t, &DcDcConverter{
		DeviceState:   1,
		ChargerError:  2,
		InputVoltage:  1315,
		OutputVoltage: 0x7FFF,
		OffReason:     0x00000080,
	}, d)

	assert.InDelta(t, 13.15, d.InputVolts(), 1e-9)
	_, ok := d.OutputVolts()
	assert.False(t, ok)
	assert.Equal(t, ReadoutTypeDcDcConverter, d.ReadoutType())
}

func TestDecodeDcDcConverter_ExactLength(t *testing.T) {
	d, err := DecodeDcDcConverter([]byte{0x03, 0x00, 0xB0, 0x04, 0x18, 0xFB, 0x00, 0x00, 0x00, 0x00})
	require.NoError(t, err)

	assert.Equal(t, StateBulk, d.DeviceState)
	assert.Equal(t, uint16(1200), d.InputVoltage)
	assert.Equal(t, int16(-1256), d.OutputVoltage)

	v, ok := d.OutputVolts()
	assert.True(t, ok)
	assert.InDelta(t, -12.56, v, 1e-9)
}

func TestDecodeDcDcConverter_ShortPayload(t *testing.T) {
	for n := 0; n < 10; n++ {
		d, err := DecodeDcDcConverter(dcdcPayload[:n])
		assert.Nil(t, d, "length %d", n)
		assert.ErrorIs(t, err, ErrNotEnoughData, "length %d", n)
		assert.ErrorIs(t, err, bitreader.ErrNotEnoughData, "length %d", n)
	}
}

func TestFieldError(t *testing.T) {
	err := fieldError("input_voltage", bitreader.ErrNotEnoughData)
	assert.ErrorIs(t, err, ErrNotEnoughData)
	assert.ErrorIs(t, err, bitreader.ErrNotEnoughData)

	err = fieldError("input_voltage", bitreader.ErrTooManyBitsForType)
	assert.ErrorIs(t, err, bitreader.ErrTooManyBitsForType)
	assert.NotErrorIs(t, err, ErrNotEnoughData)
	assert.Contains(t, err.Error(), "input_voltage")
}

func TestDcDcConverter_Fields(t *testing.T) {
	d := &DcDcConverter{DeviceState: StateFloat, InputVoltage: 2410, OutputVoltage: 1380, OffReason: 0x80}

	fields := d.Fields()
	assert.Equal(t, "float", fields["device_state"])
	assert.InDelta(t, 24.10, fields["input_volts"].(float64), 1e-9)
	assert.InDelta(t, 13.80, fields["output_volts"].(float64), 1e-9)
	assert.Equal(t, "0x00000080", fields["off_reason"])

	d.OutputVoltage = OutputVoltageNotAvailable
	_, present := d.Fields()["output_volts"]
	assert.False(t, present)
}

func TestDeviceState_String(t *testing.T) {
	assert.Equal(t, "low_power", StateLowPower.String())
	assert.Equal(t, "external_control", StateExternalControl.String())
	assert.Equal(t, "unknown(100)", DeviceState(100).String())
}
