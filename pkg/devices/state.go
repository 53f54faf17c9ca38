package devices

import "fmt"

// DeviceState is the operating state shared by Victron chargers and converters.
type DeviceState uint8

const (
	StateOff                DeviceState = 0
	StateLowPower           DeviceState = 1
	StateFault              DeviceState = 2
	StateBulk               DeviceState = 3
	StateAbsorption         DeviceState = 4
	StateFloat              DeviceState = 5
	StateStorage            DeviceState = 6
	StateEqualizeManual     DeviceState = 7
	StateInverting          DeviceState = 9
	StatePowerSupply        DeviceState = 11
	StateStartingUp         DeviceState = 245
	StateRepeatedAbsorption DeviceState = 246
	StateAutoEqualize       DeviceState = 247
	StateBatterySafe        DeviceState = 248
	StateExternalControl    DeviceState = 252
	StateNotAvailable       DeviceState = 255
)

var stateNames = map[DeviceState]string{
	StateOff:                "off",
	StateLowPower:           "low_power",
	StateFault:              "fault",
	StateBulk:               "bulk",
	StateAbsorption:         "absorption",
	StateFloat:              "float",
	StateStorage:            "storage",
	StateEqualizeManual:     "equalize_manual",
	StateInverting:          "inverting",
	StatePowerSupply:        "power_supply",
	StateStartingUp:         "starting_up",
	StateRepeatedAbsorption: "repeated_absorption",
	StateAutoEqualize:       "auto_equalize",
	StateBatterySafe:        "battery_safe",
	StateExternalControl:    "external_control",
	StateNotAvailable:       "not_available",
}

func (s DeviceState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}
