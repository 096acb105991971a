package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/floats"
)

// Vec3 is a position in the local patrol frame in metres. X and Y follow the
// graph coordinates, Z is altitude above ground.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Scale returns v multiplied by f.
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

// XY drops the altitude component.
func (v Vec3) XY() Point {
	return Point{v.X, v.Y}
}

// Lerp interpolates linearly between a and b. The fraction is clamped to
// [0,1] so queries past the end of a leg stay on the destination.
func Lerp(a, b Vec3, frac float64) Vec3 {
	if frac <= 0 || math.IsNaN(frac) {
		return a
	}
	if frac >= 1 {
		return b
	}
	return a.Add(b.Sub(a).Scale(frac))
}

// Point is a planar graph coordinate.
type Point = orb.Point

// Distance returns the planar distance between two points.
func Distance(a, b Point) float64 {
	return planar.Distance(a, b)
}

// At lifts a planar point to the given altitude.
func At(p Point, z float64) Vec3 {
	return Vec3{X: p.X(), Y: p.Y(), Z: z}
}

// Min returns the smallest value, or 0 for an empty slice.
func Min(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Min(values)
}

// Max returns the largest value, or 0 for an empty slice.
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Max(values)
}
