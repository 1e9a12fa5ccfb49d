package model

import "strconv"

// Command is a corrective action code sent on the control topic.
type Command int

const (
	CommandPumpOn         Command = 1
	CommandHumidityAdjust Command = 3
	CommandTempLow        Command = 21
	CommandTempHigh       Command = 22
)

// Known reports whether c is one of the defined codes.
func (c Command) Known() bool {
	switch c {
	case CommandPumpOn, CommandHumidityAdjust, CommandTempLow, CommandTempHigh:
		return true
	}
	return false
}

func (c Command) String() string {
	switch c {
	case CommandPumpOn:
		return "pump_on"
	case CommandHumidityAdjust:
		return "humidity_adjust"
	case CommandTempLow:
		return "temp_low"
	case CommandTempHigh:
		return "temp_high"
	}
	return "unknown(" + strconv.Itoa(int(c)) + ")"
}

// PumpState is the relay state of the irrigation pump.
type PumpState string

const (
	PumpOff PumpState = "off"
	PumpOn  PumpState = "on"
)
