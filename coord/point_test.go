package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint_Add(t *testing.T) {
	a := Point{X: 1, Y: 2, Z: 3, A: 1}
	b := Point{X: 4, Y: 5, Z: 6, A: 2}

	assert.Equal(t, Point{X: 5, Y: 7, Z: 9, A: 3}, a.Add(b))
	assert.Equal(t, Point{X: -3, Y: -3, Z: -3, A: -1}, a.Sub(b))
}

func TestPoint_Axis(t *testing.T) {
	p := FromSlice([]float64{1, 2, 3, 4})
	assert.Equal(t, Point{X: 1, Y: 2, Z: 3, A: 4}, p)

	v, ok := p.Axis('a')
	assert.True(t, ok)
	assert.Equal(t, 4.0, v)

	_, ok = p.Axis('Q')
	assert.False(t, ok)

	assert.Equal(t, 9.0, p.SetAxis('C', 9).C)
}

func TestBounds_Extend(t *testing.T) {
	var b Bounds
	assert.True(t, b.Empty())

	b = b.Extend(Point{X: 1, Y: -2, Z: 0})
	b = b.Extend(Point{X: -4, Y: 5, Z: 2})

	assert.False(t, b.Empty())
	assert.Equal(t, Point{X: -4, Y: -2, Z: 0}, b.Min)
	assert.Equal(t, Point{X: 1, Y: 5, Z: 2}, b.Max)
}
