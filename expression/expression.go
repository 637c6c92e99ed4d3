// Package expression evaluates the bracketed and `%` expressions that
// programs and macros embed in G-code lines.
package expression

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// Context holds the variables visible to expressions. Assignments made by
// Evaluate are stored back into it, so one Context is shared by every line
// of a program or macro.
type Context map[string]interface{}

// Clone returns a shallow copy of ctx.
func (ctx Context) Clone() Context {
	c := make(Context, len(ctx))
	for k, v := range ctx {
		c[k] = v
	}
	return c
}

// Merge copies every entry of src into ctx, overwriting existing keys.
func (ctx Context) Merge(src Context) Context {
	for k, v := range src {
		ctx[k] = v
	}
	return ctx
}

var (
	rxBracket = regexp.MustCompile(`\[[^\]]+\]`)
	rxAssign  = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=([^=].*)$`)
)

// Eval evaluates a single expression against ctx.
func Eval(src string, ctx Context) (interface{}, error) {
	v, err := expr.Eval(src, map[string]interface{}(ctx))
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", src, err)
	}
	return v, nil
}

// Evaluate runs a comma separated list of expressions, storing the result of
// each `name=expr` assignment in ctx. Evaluation stops at the first error.
func Evaluate(src string, ctx Context) error {
	for _, part := range splitTopLevel(src) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if m := rxAssign.FindStringSubmatch(part); m != nil {
			v, err := Eval(m[2], ctx)
			if err != nil {
				return err
			}
			ctx[m[1]] = v
			continue
		}
		if _, err := Eval(part, ctx); err != nil {
			return err
		}
	}
	return nil
}

// Translate replaces each `[expr]` in line with its value. A bracket that
// fails to evaluate is left as written and the first such error is returned.
func Translate(line string, ctx Context) (string, error) {
	var firstErr error
	res := rxBracket.ReplaceAllStringFunc(line, func(m string) string {
		v, err := Eval(m[1:len(m)-1], ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return m
		}
		return Format(v)
	})
	return res, firstErr
}

// Format renders an evaluated value the way it is substituted into a line.
func Format(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case string:
		return n
	}
	return fmt.Sprint(v)
}

// splitTopLevel splits on commas that are not nested in brackets, parens or quotes.
func splitTopLevel(s string) []string {
	var (
		res   []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			res = append(res, s[start:i])
			start = i + 1
		}
	}
	return append(res, s[start:])
}
