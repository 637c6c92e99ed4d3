package tinyg

import (
	"strconv"
	"time"
)

const (
	// planner queue hysteresis
	lowWater  = 4
	highWater = 20

	// longest line the serial input accepts
	serialBufferLimit = 254

	bootDelay  = time.Second
	probeDelay = 100 * time.Millisecond

	stopClearDelay = 250 * time.Millisecond
)

// machine states reported in sr.stat
var machineStates = map[int]string{
	0:  "Initializing",
	1:  "Ready",
	2:  "Alarm",
	3:  "Stop",
	4:  "End",
	5:  "Run",
	6:  "Hold",
	7:  "Probe",
	8:  "Cycle",
	9:  "Homing",
	10: "Jog",
	11: "Interlock",
	12: "Shutdown",
	13: "Panic",
}

var (
	motionModes = []string{"G0", "G1", "G2", "G3", "G80"}
	coordSystem = []string{"G53", "G54", "G55", "G56", "G57", "G58", "G59"}
	planes      = []string{"G17", "G18", "G19"}
	units       = []string{"G20", "G21"}
	distance    = []string{"G90", "G91"}
	feedModes   = []string{"G93", "G94", "G95"}
	spindleDirs = []string{"M5", "M3", "M4"}
)

// statusReportFields are requested in every status report. Spindle and
// coolant fields are dropped when the firmware does not know them.
var statusReportFields = []string{
	"line", "vel", "feed", "stat", "cycs", "mots", "hold",
	"momo", "coor", "plan", "unit", "dist", "frmo", "path",
	"posx", "posy", "posz", "posa", "posb", "posc",
	"mpox", "mpoy", "mpoz", "mpoa", "mpob", "mpoc",
	"spe", "spd", "spc", "sps", "com", "cof",
}

var optionalFields = []string{"spe", "spd", "spc", "sps", "com", "cof"}

var statusCodes = map[int]string{
	1:   "Generic error",
	2:   "Function would block here",
	3:   "Function had no-operation",
	4:   "Operation is complete",
	5:   "Operation was shut down",
	6:   "System panic",
	7:   "Function returned end-of-line",
	8:   "Function returned end-of-file",
	20:  "Internal error",
	21:  "Internal range error",
	22:  "Floating point error",
	23:  "Divide by zero",
	24:  "Invalid Address",
	25:  "Read-only address",
	26:  "Initialization failure",
	27:  "Shutdown failure",
	28:  "Failed to get planner buffer",
	29:  "Input string is too long",
	30:  "Input exceeds max length",
	100: "Unrecognized command or config name",
	101: "Invalid or malformed command",
	102: "Bad number format",
	103: "Unsupported number or JSON type",
	104: "Parameter is read-only",
	105: "Parameter cannot be set",
	106: "Command not accepted",
	107: "Input exceeds max length",
	108: "Input less than minimum value",
	109: "Input exceeds maximum value",
	110: "Input value range error",
	111: "JSON syntax error",
	112: "JSON has too many pairs",
	113: "JSON string too long",
	130: "Generic Gcode input error",
	131: "Gcode command unsupported",
	132: "M code unsupported",
	133: "Gcode modal group violation",
	134: "Axis word missing",
	135: "Axis cannot be present",
	136: "Axis is invalid for this command",
	137: "Axis is disabled",
	138: "Axis target position is missing",
	139: "Axis target position is invalid",
	140: "Selected plane is missing",
	141: "Selected plane is invalid",
	142: "Feedrate not specified",
	143: "Inverse time mode cannot be used with this command",
	144: "Rotary axes cannot be used with this command",
	145: "G0 or G1 must be active for G53",
	146: "Requested velocity exceeds limits",
	147: "Cutter compensation cannot be enabled",
	148: "Programmed point same as current point",
	149: "Spindle speed below minimum",
	150: "Spindle speed exceeded maximum",
	151: "Spindle must be off for this command",
	152: "Spindle must be turning for this command",
	200: "Generic error",
	201: "Move is too short",
	202: "Move is too long",
	203: "Machine is alarmed",
	204: "Limit switch hit",
	205: "Trapezoid planner failed",
	220: "Soft limit exceeded",
	221: "Soft limit exceeded - X min",
	222: "Soft limit exceeded - X max",
	223: "Soft limit exceeded - Y min",
	224: "Soft limit exceeded - Y max",
	225: "Soft limit exceeded - Z min",
	226: "Soft limit exceeded - Z max",
	240: "Homing cycle failed",
	241: "Homing Error - Bad or no axis specified",
	242: "Homing Error - Search velocity is zero",
	243: "Homing Error - Latch velocity is zero",
	244: "Homing Error - Travel min & max are the same",
	245: "Homing Error - Negative latch backoff",
	246: "Homing Error - Homing switches misconfigured",
	250: "Probe cycle failed",
	251: "Probe endpoint is starting point",
	252: "Jogging cycle failed",
}

func statusMessage(code int) string {
	if msg, ok := statusCodes[code]; ok {
		return msg
	}
	return "Status code " + strconv.Itoa(code)
}

func pick(names []string, i int) (string, bool) {
	if i < 0 || i >= len(names) {
		return "", false
	}
	return names[i], true
}
