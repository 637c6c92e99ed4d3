package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	ctx := Context{
		"posx":  10.5,
		"posy":  -2.0,
		"modal": map[string]interface{}{"units": "G21"},
	}

	s, err := Translate("G0 X[posx - 8] Y[posy]", ctx)
	require.NoError(t, err)
	assert.Equal(t, "G0 X2.5 Y-2", s)

	s, err = Translate("[modal.units]", ctx)
	require.NoError(t, err)
	assert.Equal(t, "G21", s)

	s, err = Translate("G0 X[nope +]", ctx)
	assert.Error(t, err)
	assert.Equal(t, "G0 X[nope +]", s)

	s, err = Translate("G0 X1", ctx)
	require.NoError(t, err)
	assert.Equal(t, "G0 X1", s)
}

func TestEvaluate(t *testing.T) {
	ctx := Context{"posx": 3.0, "posy": 4.0}

	require.NoError(t, Evaluate("_x=posx, _y=posy*2, _z=(1+2)", ctx))
	assert.Equal(t, 3.0, ctx["_x"])
	assert.Equal(t, 8.0, ctx["_y"])
	assert.Equal(t, 3, ctx["_z"])

	s, err := Translate("G0 X[_x] Y[_y]", ctx)
	require.NoError(t, err)
	assert.Equal(t, "G0 X3 Y8", s)

	assert.Error(t, Evaluate("_a=missing(", ctx))
	assert.NotContains(t, ctx, "_a")
}

func TestSplitTopLevel(t *testing.T) {
	assert.Equal(t, []string{"a=max(1, 2)", " b='x,y'"}, splitTopLevel("a=max(1, 2), b='x,y'"))
}

func TestContext_Clone(t *testing.T) {
	a := Context{"a": 1}
	b := a.Clone().Merge(Context{"b": 2})
	assert.Equal(t, Context{"a": 1}, a)
	assert.Equal(t, Context{"a": 1, "b": 2}, b)
}
