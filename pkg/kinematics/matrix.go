// Bed-level transform for the printipi Go migration
//
// A 3x3 rotation stored as int64 numerators over a fixed 1e9
// denominator. Applying it to a micrometer vector uses a 128-bit
// intermediate so the composition stays exact for any reachable
// coordinate.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package kinematics

import (
	"math/bits"

	"printipi-go-migration/pkg/units"
)

// MatrixDenominator is the fixed denominator of all matrix entries.
const MatrixDenominator = 1_000_000_000

// Matrix3 is a row-major 3x3 matrix of scaled integers.
type Matrix3 struct {
	m [9]int64
}

// NewMatrix3 builds a matrix from row-major scaled entries.
func NewMatrix3(entries [9]int64) Matrix3 {
	return Matrix3{m: entries}
}

// Identity returns the identity transform.
func Identity() Matrix3 {
	return Matrix3{m: [9]int64{
		MatrixDenominator, 0, 0,
		0, MatrixDenominator, 0,
		0, 0, MatrixDenominator,
	}}
}

// IsIdentity reports whether the matrix is exactly the identity.
func (mt Matrix3) IsIdentity() bool {
	return mt == Identity()
}

// mulScaled computes round(a*b/MatrixDenominator) without overflowing,
// using a 128-bit intermediate product.
func mulScaled(a, b int64) int64 {
	neg := false
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
		neg = !neg
	}
	if b < 0 {
		ub = uint64(-b)
		neg = !neg
	}
	hi, lo := bits.Mul64(ua, ub)
	// Round half up before dividing.
	lo2, carry := bits.Add64(lo, MatrixDenominator/2, 0)
	q, _ := bits.Div64(hi+carry, lo2, MatrixDenominator)
	if neg {
		return -int64(q)
	}
	return int64(q)
}

// Apply rotates a micrometer vector.
func (mt Matrix3) Apply(x, y, z units.Micrometers) (units.Micrometers, units.Micrometers, units.Micrometers) {
	xi, yi, zi := int64(x), int64(y), int64(z)
	rx := mulScaled(mt.m[0], xi) + mulScaled(mt.m[1], yi) + mulScaled(mt.m[2], zi)
	ry := mulScaled(mt.m[3], xi) + mulScaled(mt.m[4], yi) + mulScaled(mt.m[5], zi)
	rz := mulScaled(mt.m[6], xi) + mulScaled(mt.m[7], yi) + mulScaled(mt.m[8], zi)
	return units.Micrometers(rx), units.Micrometers(ry), units.Micrometers(rz)
}

// ApplyTranspose rotates by the inverse of a pure rotation (its
// transpose). Used on the reporting path to undo the bed transform.
func (mt Matrix3) ApplyTranspose(x, y, z units.Micrometers) (units.Micrometers, units.Micrometers, units.Micrometers) {
	t := Matrix3{m: [9]int64{
		mt.m[0], mt.m[3], mt.m[6],
		mt.m[1], mt.m[4], mt.m[7],
		mt.m[2], mt.m[5], mt.m[8],
	}}
	return t.Apply(x, y, z)
}
