package tinyg

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/mastercactapus/cncd/machine"
)

func decodeJSON(s string) (map[string]interface{}, error) {
	d := json.NewDecoder(strings.NewReader(s))
	d.UseNumber()
	var m map[string]interface{}
	if err := d.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func number(v interface{}) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

func text(v interface{}) string {
	switch v := v.(type) {
	case json.Number:
		return v.String()
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// flatten turns nested groups into TinyG's own naming, e.g. {"1":{"ma":0}}
// becomes "1ma".
func flatten(prefix string, m map[string]interface{}, fn func(key string, v interface{})) {
	for k, v := range m {
		if sub, ok := v.(map[string]interface{}); ok {
			flatten(prefix+k, sub, fn)
			continue
		}
		fn(prefix+k, v)
	}
}

func setModal(dst *string, names []string, i int) {
	if name, ok := pick(names, i); ok {
		*dst = name
	}
}

func setCoolant(cur, word string, on bool) string {
	set := map[string]bool{}
	for _, w := range strings.Fields(cur) {
		if w == "M7" || w == "M8" {
			set[w] = true
		}
	}
	set[word] = on

	var res []string
	for w, ok := range set {
		if ok {
			res = append(res, w)
		}
	}
	if len(res) == 0 {
		return "M9"
	}
	sort.Strings(res)
	return strings.Join(res, " ")
}

// applyStatus merges a status report into st.
func applyStatus(st machine.State, sr map[string]interface{}) machine.State {
	for k, v := range sr {
		f, ok := number(v)
		if !ok {
			continue
		}
		i := int(f)
		switch k {
		case "stat":
			if name, ok := machineStates[i]; ok {
				st.Status = name
			}
		case "line":
			st.Line = i
		case "vel":
			st.Velocity = f
		case "feed":
			st.Feedrate = f
		case "momo":
			setModal(&st.Modal.Motion, motionModes, i)
		case "coor":
			setModal(&st.Modal.WCS, coordSystem, i)
		case "plan":
			setModal(&st.Modal.Plane, planes, i)
		case "unit":
			setModal(&st.Modal.Units, units, i)
		case "dist":
			setModal(&st.Modal.Distance, distance, i)
		case "frmo":
			setModal(&st.Modal.Feedrate, feedModes, i)
		case "spc":
			setModal(&st.Modal.Spindle, spindleDirs, i)
		case "sps":
			st.Spindle = f
		case "com":
			st.Modal.Coolant = setCoolant(st.Modal.Coolant, "M7", i != 0)
		case "cof":
			st.Modal.Coolant = setCoolant(st.Modal.Coolant, "M8", i != 0)
		default:
			if len(k) == 4 && strings.HasPrefix(k, "pos") {
				st.WPos = st.WPos.SetAxis(k[3], f)
			} else if len(k) == 4 && strings.HasPrefix(k, "mpo") {
				st.MPos = st.MPos.SetAxis(k[3], f)
			}
		}
	}

	// older firmware reports enable and direction separately
	if spe, ok := number(sr["spe"]); ok {
		st.Modal.Spindle = "M5"
		if spe != 0 {
			st.Modal.Spindle = "M3"
			if spd, _ := number(sr["spd"]); spd != 0 {
				st.Modal.Spindle = "M4"
			}
		}
	}

	st.WCO = st.MPos.Sub(st.WPos)
	return st
}

// relaxedJSON formats a flat set of flags the way TinyG accepts them
// without quotes, e.g. {sr:{line:t,vel:t}}.
func relaxedJSON(group string, keys []string) string {
	var b strings.Builder
	b.WriteString("{" + group + ":{")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k + ":t")
	}
	b.WriteString("}}")
	return b.String()
}
