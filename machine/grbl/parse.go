package grbl

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mastercactapus/cncd/coord"
	"github.com/mastercactapus/cncd/machine"
)

// ParseCoords parses a comma separated list of 1 to 6 axis values.
func ParseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) == 0 || len(parts) > len(coord.Axes) {
		return p, errors.New("invalid number of elements")
	}
	vals := make([]float64, len(parts))
	for i, s := range parts {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return p, err
		}
	}
	return coord.FromSlice(vals), nil
}

func parseInts(data string) ([]int, error) {
	parts := strings.Split(data, ",")
	res := make([]int, len(parts))
	for i, s := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		res[i] = int(v)
	}
	return res, nil
}

// statusFields splits the body of a status report into name/value pairs.
// Grbl 1.1 separates fields with '|'; Grbl 0.9 and Smoothie use ',' for both
// fields and values, so values are regrouped onto the last named field.
func statusFields(data string) (status string, fields [][2]string) {
	if strings.ContainsRune(data, '|') {
		parts := strings.Split(data, "|")
		for _, s := range parts[1:] {
			kv := strings.SplitN(s, ":", 2)
			if len(kv) == 2 {
				fields = append(fields, [2]string{kv[0], kv[1]})
			} else {
				fields = append(fields, [2]string{kv[0], ""})
			}
		}
		return parts[0], fields
	}

	parts := strings.Split(data, ",")
	for _, s := range parts[1:] {
		if kv := strings.SplitN(s, ":", 2); len(kv) == 2 {
			fields = append(fields, [2]string{kv[0], kv[1]})
			continue
		}
		if len(fields) > 0 {
			fields[len(fields)-1][1] += "," + s
		}
	}
	return parts[0], fields
}

// ParseStatus merges a "<...>" status report into stat. It also returns the
// available receive buffer when the report carries one.
func ParseStatus(stat machine.State, data string) (*machine.State, int, error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")

	status, fields := statusFields(data)
	stat.Status = status
	stat.SubState = ""
	if i := strings.IndexRune(status, ':'); i >= 0 {
		stat.Status, stat.SubState = status[:i], status[i+1:]
	}

	var (
		err        error
		rx         int
		mPos, wPos bool
		ints       []int
	)
	for _, f := range fields {
		switch f[0] {
		case "MPos":
			stat.MPos, err = ParseCoords(f[1])
			mPos = true
		case "WPos":
			stat.WPos, err = ParseCoords(f[1])
			wPos = true
		case "WCO":
			stat.WCO, err = ParseCoords(f[1])
		case "Bf":
			ints, err = parseInts(f[1])
			if err == nil && len(ints) == 2 {
				stat.Buffer = machine.Buffer{Planner: ints[0], RX: ints[1]}
				rx = ints[1]
			}
		case "Buf":
			ints, err = parseInts(f[1])
			if err == nil {
				stat.Buffer.Planner = ints[0]
			}
		case "RX":
			ints, err = parseInts(f[1])
			if err == nil {
				stat.Buffer.RX = ints[0]
			}
		case "Ln":
			ints, err = parseInts(f[1])
			if err == nil {
				stat.Line = ints[0]
			}
		case "F", "S":
			// Smoothie appends the override percentage, e.g. F:1000.0,100.0
			var vals coord.Point
			vals, err = ParseCoords(f[1])
			if err == nil && f[0] == "F" {
				stat.Feedrate = vals.X
				if strings.Contains(f[1], ",") {
					stat.Overrides.Feed = vals.Y
				}
			} else if err == nil {
				stat.Spindle = vals.X
				if strings.Contains(f[1], ",") {
					stat.Overrides.Spindle = vals.Y
				}
			}
		case "FS":
			ints, err = parseInts(f[1])
			if err == nil && len(ints) == 2 {
				stat.Feedrate, stat.Spindle = float64(ints[0]), float64(ints[1])
			}
		case "Ov":
			ints, err = parseInts(f[1])
			if err == nil && len(ints) == 3 {
				stat.Overrides = machine.Overrides{Feed: float64(ints[0]), Rapid: float64(ints[1]), Spindle: float64(ints[2])}
			}
		case "Pn":
			stat.Pins = f[1]
		}
		if err != nil {
			return nil, 0, err
		}
	}
	// Pn is omitted when no pin is triggered
	if !hasField(fields, "Pn") {
		stat.Pins = ""
	}

	switch {
	case mPos && !wPos:
		stat.WPos = stat.MPos.Sub(stat.WCO)
	case wPos && !mPos:
		stat.MPos = stat.WPos.Add(stat.WCO)
	case wPos && mPos:
		stat.WCO = stat.MPos.Sub(stat.WPos)
	}
	return &stat, rx, nil
}

func hasField(fields [][2]string, name string) bool {
	for _, f := range fields {
		if f[0] == name {
			return true
		}
	}
	return false
}

// parsePush splits a "[NAME:value]" message. Messages without a name,
// such as a Grbl 0.9 parser state, return an empty name.
func parsePush(data string) (name, value string) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "[")
	data = strings.TrimSuffix(data, "]")
	i := strings.IndexRune(data, ':')
	if i < 0 {
		return "", data
	}
	name = data[:i]
	if strings.ContainsAny(name, " ") {
		return "", data
	}
	return name, data[i+1:]
}

// parseCode splits "error:9" or "ALARM: Hard limit" into a numeric code
// (0 when absent) and the remaining text.
func parseCode(data, prefix string) (int, string) {
	s := strings.TrimSpace(strings.TrimPrefix(data, prefix))
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, s
	}
	return code, ""
}
