package gcode

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	rxWord    = regexp.MustCompile(`([A-Za-z])\s*([+-]?(?:[0-9]+\.?[0-9]*|\.[0-9]+))`)
	rxComment = regexp.MustCompile(`\([^)]*\)`)
)

// StripComments removes `;` line comments and `( )` inline comments.
func StripComments(s string) string {
	s = strings.SplitN(s, ";", 2)[0]
	s = rxComment.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseLine tokenizes a single line into words. It is lenient: anything it
// does not recognize as a word is skipped.
func ParseLine(s string) Block {
	s = StripComments(s)
	if s == "" {
		return nil
	}
	codes := rxWord.FindAllStringSubmatch(s, -1)
	if len(codes) == 0 {
		return nil
	}

	res := make(Block, 0, len(codes))
	for _, c := range codes {
		arg, err := strconv.ParseFloat(c[2], 64)
		if err != nil {
			continue
		}
		res = append(res, Word{W: strings.ToUpper(c[1])[0], Arg: arg})
	}
	return res
}
