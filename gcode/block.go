package gcode

import "strings"

type Block []Word

// ProgramPause returns the first M0/M1 word, if any.
func (b Block) ProgramPause() (Word, bool) {
	for _, g := range b {
		if g.IsProgramPause() {
			return g, true
		}
	}
	return Word{}, false
}

// ToolChange returns the M6 word, if any.
func (b Block) ToolChange() (Word, bool) {
	for _, g := range b {
		if g.IsToolChange() {
			return g, true
		}
	}
	return Word{}, false
}

func (b Block) String() string {
	var sb strings.Builder
	for _, g := range b {
		sb.WriteString(g.String())
	}
	return sb.String()
}
