package gcode

import (
	"fmt"
	"math"
)

// Point is an absolute XYZ coordinate in millimeters.
type Point struct{ X, Y, Z float64 }

func (p Point) String() string {
	return fmt.Sprintf("X%.3f Y%.3f Z%.3f", p.X, p.Y, p.Z)
}

func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y && p.Z == b.Z
}

func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	return p
}

func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

func (p Point) Dot(op Point) float64 {
	return p.X*op.X + p.Y*op.Y + p.Z*op.Z
}

func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	p.Z *= val
	return p
}

// Distance returns the Euclidean distance from p to target.
func (p Point) Distance(target Point) float64 {
	d := target.Sub(p)
	return math.Sqrt(d.Dot(d))
}

// DistanceToSegment returns the distance from p to the line segment from a to b, clamped to the
// segment: points past either end measure to the nearest endpoint, not to the infinite line.
func (p Point) DistanceToSegment(a, b Point) float64 {
	ab := b.Sub(a)
	lenSq := ab.Dot(ab)
	if lenSq == 0 {
		return p.Distance(a)
	}
	t := p.Sub(a).Dot(ab) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return p.Distance(a.Add(ab.Mul(t)))
}
