package coord

import (
	"math"
)

// Axes lists the axis letters a Point carries, in order.
const Axes = "XYZABC"

type Point struct{ X, Y, Z, A, B, C float64 }

func (p Point) Equal(b Point) bool {
	return p == b
}

// Axis returns the value for the given axis letter.
func (p Point) Axis(a byte) (float64, bool) {
	switch a {
	case 'X', 'x':
		return p.X, true
	case 'Y', 'y':
		return p.Y, true
	case 'Z', 'z':
		return p.Z, true
	case 'A', 'a':
		return p.A, true
	case 'B', 'b':
		return p.B, true
	case 'C', 'c':
		return p.C, true
	}
	return 0, false
}

// SetAxis returns a copy of p with the given axis set to val.
func (p Point) SetAxis(a byte, val float64) Point {
	switch a {
	case 'X', 'x':
		p.X = val
	case 'Y', 'y':
		p.Y = val
	case 'Z', 'z':
		p.Z = val
	case 'A', 'a':
		p.A = val
	case 'B', 'b':
		p.B = val
	case 'C', 'c':
		p.C = val
	}
	return p
}

// FromSlice builds a Point from up to 6 values in XYZABC order.
func FromSlice(vals []float64) Point {
	var p Point
	for i, v := range vals {
		if i >= len(Axes) {
			break
		}
		p = p.SetAxis(Axes[i], v)
	}
	return p
}

func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	p.Z *= val
	p.A *= val
	p.B *= val
	p.C *= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	p.A += target.A
	p.B += target.B
	p.C += target.C
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	p.A -= target.A
	p.B -= target.B
	p.C -= target.C
	return p
}

// Bounds is an axis aligned bounding box over X, Y and Z.
type Bounds struct {
	Min, Max Point
	valid    bool
}

// Extend grows b to include p.
func (b Bounds) Extend(p Point) Bounds {
	if !b.valid {
		return Bounds{Min: p, Max: p, valid: true}
	}
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Min.Z = math.Min(b.Min.Z, p.Z)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
	b.Max.Z = math.Max(b.Max.Z, p.Z)
	return b
}

// Empty reports whether no point has been added.
func (b Bounds) Empty() bool { return !b.valid }
