// Package vmath holds the float32 vector math shared by the entity model,
// the interpreter and the physics stepper.
package vmath

import (
	"fmt"
	"math"
)

// Vec3 is a three component float32 vector. Script vectors occupy three
// consecutive memory slots and map onto this type one to one.
type Vec3 [3]float32

// Zero is the origin.
var Zero = Vec3{}

func (v Vec3) X() float32 { return v[0] }
func (v Vec3) Y() float32 { return v[1] }
func (v Vec3) Z() float32 { return v[2] }

func (v Vec3) String() string {
	return fmt.Sprintf("'%g %g %g'", v[0], v[1], v[2])
}

// IsZero reports whether all components are exactly zero.
func (v Vec3) IsZero() bool {
	return v[0] == 0 && v[1] == 0 && v[2] == 0
}

func Add(a, b Vec3) Vec3 {
	return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func Sub(a, b Vec3) Vec3 {
	return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func Scale(s float32, v Vec3) Vec3 {
	return Vec3{s * v[0], s * v[1], s * v[2]}
}

// MulAdd returns a + s*b.
func MulAdd(a Vec3, s float32, b Vec3) Vec3 {
	return Vec3{a[0] + s*b[0], a[1] + s*b[1], a[2] + s*b[2]}
}

func Dot(a, b Vec3) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func Cross(a, b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func Length(v Vec3) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// Normalize returns v scaled to unit length, or the zero vector.
func Normalize(v Vec3) Vec3 {
	l := Length(v)
	if l == 0 {
		return Vec3{}
	}
	return Scale(1/l, v)
}

// Lerp blends a toward b by f.
func Lerp(a, b Vec3, f float32) Vec3 {
	return Vec3{
		a[0] + f*(b[0]-a[0]),
		a[1] + f*(b[1]-a[1]),
		a[2] + f*(b[2]-a[2]),
	}
}

// Min and Max are component-wise.
func Min(a, b Vec3) Vec3 {
	return Vec3{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])}
}

func Max(a, b Vec3) Vec3 {
	return Vec3{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])}
}
