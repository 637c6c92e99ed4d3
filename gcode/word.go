package gcode

import (
	"strconv"
	"strings"
)

type Word struct {
	W   byte
	Arg float64
}

func (w Word) IsAxis() bool {
	switch w.W {
	case 'X', 'Y', 'Z', 'A', 'B', 'C':
		return true
	}
	return false
}

// IsProgramPause reports whether w is M0 or M1.
func (w Word) IsProgramPause() bool {
	return w.W == 'M' && (w.Arg == 0 || w.Arg == 1)
}

// IsToolChange reports whether w is M6.
func (w Word) IsToolChange() bool {
	return w.W == 'M' && w.Arg == 6
}

// FormatFloat formats f with at most prec decimals and no trailing zeros.
func FormatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func (w Word) String() string {
	return string(w.W) + FormatFloat(w.Arg, 4)
}
