package grbl

import (
	"strconv"
	"time"
)

const (
	// receive buffer of an Arduino based Grbl, less a safety margin
	bufferSize   = 128 - 8
	bufferMargin = 8

	statusTimeout      = 5 * time.Second
	parserStateTimeout = 10 * time.Second
	parserStateEvery   = 500 * time.Millisecond

	forceStopDelay = 500 * time.Millisecond
)

const (
	stateIdle  = "Idle"
	stateRun   = "Run"
	stateHold  = "Hold"
	stateAlarm = "Alarm"
)

var errorMessages = map[int]string{
	1:  "Expected command letter",
	2:  "Bad number format",
	3:  "Invalid statement",
	4:  "Value < 0",
	5:  "Setting disabled",
	6:  "Value < 3 usec",
	7:  "EEPROM read fail. Using defaults",
	8:  "Not idle",
	9:  "G-code lock",
	10: "Homing not enabled",
	11: "Line overflow",
	12: "Step rate > 30kHz",
	13: "Check Door",
	14: "Line length exceeded",
	15: "Travel exceeded",
	16: "Invalid jog command",
	17: "Setting disabled",
	20: "Unsupported command",
	21: "Modal group violation",
	22: "Undefined feed rate",
	23: "Invalid gcode ID:23",
	24: "Invalid gcode ID:24",
	25: "Invalid gcode ID:25",
	26: "Invalid gcode ID:26",
	27: "Invalid gcode ID:27",
	28: "Invalid gcode ID:28",
	29: "Invalid gcode ID:29",
	30: "Invalid gcode ID:30",
	31: "Invalid gcode ID:31",
	32: "Invalid gcode ID:32",
	33: "Invalid gcode ID:33",
	34: "Invalid gcode ID:34",
	35: "Invalid gcode ID:35",
	36: "Invalid gcode ID:36",
	37: "Invalid gcode ID:37",
	38: "Invalid gcode ID:38",
}

var alarmMessages = map[int]string{
	1: "Hard limit",
	2: "Soft limit",
	3: "Abort during cycle",
	4: "Probe fail",
	5: "Probe fail",
	6: "Homing fail",
	7: "Homing fail",
	8: "Homing fail",
	9: "Homing fail",
}

func lookup(table map[int]string, code int, prefix string) string {
	if msg, ok := table[code]; ok {
		return msg
	}
	return prefix + strconv.Itoa(code)
}

// feed and spindle override deltas in percent, mapped to their realtime byte
var (
	feedOverrides = map[int]string{
		0:   "\x90",
		10:  "\x91",
		-10: "\x92",
		1:   "\x93",
		-1:  "\x94",
	}
	spindleOverrides = map[int]string{
		0:   "\x99",
		10:  "\x9a",
		-10: "\x9b",
		1:   "\x9c",
		-1:  "\x9d",
	}
	rapidOverrides = map[int]string{
		100: "\x95",
		50:  "\x96",
		25:  "\x97",
	}
)
