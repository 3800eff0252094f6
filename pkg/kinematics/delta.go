// Linear-delta coordinate map for the printipi Go migration
//
// Converts Cartesian targets (plus extrusion) to per-tower carriage
// positions for a three-tower linear delta. The forward map is the hot
// path and runs entirely in 64-bit integer micrometers; the inverse
// (three-sphere trilateration) is only needed for position reporting.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package kinematics

import (
	"math"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/units"
)

// Axis identifiers. Towers A, B, C carry the effector; E is extrusion.
const (
	AxisA = 0
	AxisB = 1
	AxisC = 2
	AxisE = 3

	// NumAxes is the fixed axis arity of a delta machine with one
	// extruder.
	NumAxes = 4
)

// towerAngles are the tower bearings in degrees, A first.
var towerAngles = [3]float64{90.0, 210.0, 330.0}

// Position is a Cartesian target with extrusion, in micrometers.
type Position struct {
	X, Y, Z, E units.Micrometers
}

// CarriagePos is the per-axis actuated position in whole motor steps.
type CarriagePos struct {
	A, B, C, E int64
}

// Axis returns the step count for one axis id.
func (c CarriagePos) Axis(id int) int64 {
	switch id {
	case AxisA:
		return c.A
	case AxisB:
		return c.B
	case AxisC:
		return c.C
	default:
		return c.E
	}
}

// DeltaConfig holds the delta geometry in micrometers.
type DeltaConfig struct {
	TowerRadius units.Micrometers // R: center to tower
	RodLength   units.Micrometers // L: carriage to effector
	HomeHeight  units.Micrometers // H: carriage height at home
	BuildRadius units.Micrometers // reachable XY radius

	StepsPerM    units.StepsPerMeter // tower carriage scaling
	StepsPerMExt units.StepsPerMeter // extruder scaling

	BedLevel Matrix3 // applied to incoming Cartesian points
}

// DeltaMap converts Cartesian(+E) positions to carriage positions and
// back.
type DeltaMap struct {
	cfg    DeltaConfig
	towers [3][2]int64 // tower XY in um
	rod2   int64       // L^2 in um^2
	rad2   int64       // BuildRadius^2 in um^2
}

// NewDeltaMap validates the geometry and precomputes tower positions.
func NewDeltaMap(cfg DeltaConfig) (*DeltaMap, error) {
	if cfg.TowerRadius <= 0 {
		return nil, errors.KinematicsError("tower radius must be positive")
	}
	if cfg.RodLength <= cfg.TowerRadius {
		return nil, errors.KinematicsError("rod length must exceed tower radius")
	}
	if cfg.BuildRadius <= 0 || cfg.BuildRadius > cfg.TowerRadius {
		return nil, errors.KinematicsError("build radius must be in (0, tower radius]")
	}
	if cfg.StepsPerM <= 0 || cfg.StepsPerMExt <= 0 {
		return nil, errors.KinematicsError("steps per meter must be positive")
	}

	dm := &DeltaMap{
		cfg:  cfg,
		rod2: int64(cfg.RodLength) * int64(cfg.RodLength),
		rad2: int64(cfg.BuildRadius) * int64(cfg.BuildRadius),
	}
	for i, deg := range towerAngles {
		rad := deg * math.Pi / 180.0
		dm.towers[i][0] = int64(math.Round(math.Cos(rad) * float64(cfg.TowerRadius)))
		dm.towers[i][1] = int64(math.Round(math.Sin(rad) * float64(cfg.TowerRadius)))
	}
	return dm, nil
}

// Config returns the geometry this map was built with.
func (dm *DeltaMap) Config() DeltaConfig {
	return dm.cfg
}

// Level applies the bed-level rotation to a Cartesian point.
func (dm *DeltaMap) Level(p Position) Position {
	if dm.cfg.BedLevel.IsIdentity() {
		return p
	}
	x, y, z := dm.cfg.BedLevel.Apply(p.X, p.Y, p.Z)
	return Position{X: x, Y: y, Z: z, E: p.E}
}

// CarriageHeight returns the carriage height in micrometers for one
// tower above an already-leveled point. Fails with OutOfBounds when the
// rod cannot reach.
func (dm *DeltaMap) CarriageHeight(tower int, x, y, z units.Micrometers) (units.Micrometers, error) {
	dx := int64(x) - dm.towers[tower][0]
	dy := int64(y) - dm.towers[tower][1]
	radicand := dm.rod2 - dx*dx - dy*dy
	if radicand < 0 {
		return 0, errors.OutOfBoundsError(int64(x), int64(y), int64(z))
	}
	// Round the floor root to the nearest micrometer: sqrt(radicand)
	// exceeds root + 1/2 exactly when radicand > root^2 + root.
	root := units.Sqrt64(radicand)
	if radicand-root*root > root {
		root++
	}
	return z + units.Micrometers(root), nil
}

// Forward maps a Cartesian(+E) position to carriage steps. The bed
// transform is applied first; the build-radius gate applies to the
// leveled point.
func (dm *DeltaMap) Forward(p Position) (CarriagePos, error) {
	lp := dm.Level(p)

	xy2 := int64(lp.X)*int64(lp.X) + int64(lp.Y)*int64(lp.Y)
	if xy2 > dm.rad2 {
		return CarriagePos{}, errors.OutOfBoundsError(int64(lp.X), int64(lp.Y), int64(lp.Z))
	}

	var heights [3]units.Micrometers
	for i := 0; i < 3; i++ {
		h, err := dm.CarriageHeight(i, lp.X, lp.Y, lp.Z)
		if err != nil {
			return CarriagePos{}, err
		}
		heights[i] = h
	}

	return CarriagePos{
		A: units.Steps(heights[0], dm.cfg.StepsPerM),
		B: units.Steps(heights[1], dm.cfg.StepsPerM),
		C: units.Steps(heights[2], dm.cfg.StepsPerM),
		E: units.Steps(lp.E, dm.cfg.StepsPerMExt),
	}, nil
}

// Inverse maps carriage steps back to a Cartesian(+E) position by
// intersecting the three rod spheres. Reporting path only; float64
// precision is ample for the +-1 um contract.
func (dm *DeltaMap) Inverse(c CarriagePos) (Position, error) {
	p, err := dm.InverseHeights(
		units.StepToPosition(c.A, dm.cfg.StepsPerM),
		units.StepToPosition(c.B, dm.cfg.StepsPerM),
		units.StepToPosition(c.C, dm.cfg.StepsPerM))
	if err != nil {
		return Position{}, err
	}
	p.E = units.StepToPosition(c.E, dm.cfg.StepsPerMExt)
	return p, nil
}

// InverseHeights maps exact carriage heights (in micrometers, before
// step quantization) back to a Cartesian point.
func (dm *DeltaMap) InverseHeights(ha, hb, hc units.Micrometers) (Position, error) {
	heights := [3]units.Micrometers{ha, hb, hc}
	var spheres [3][3]float64
	for i := 0; i < 3; i++ {
		spheres[i] = [3]float64{
			float64(dm.towers[i][0]),
			float64(dm.towers[i][1]),
			float64(heights[i]),
		}
	}

	x, y, z, ok := trilaterate(spheres, float64(dm.rod2))
	if !ok {
		return Position{}, errors.KinematicsError("carriage positions do not intersect")
	}

	rx, ry, rz := dm.cfg.BedLevel.ApplyTranspose(
		units.SaturateI64(x), units.SaturateI64(y), units.SaturateI64(z))
	return Position{X: rx, Y: ry, Z: rz}, nil
}

// HomeCarriage returns the carriage steps at the home position, all
// three carriages at HomeHeight above the bed center.
func (dm *DeltaMap) HomeCarriage() CarriagePos {
	steps := units.Steps(dm.cfg.HomeHeight, dm.cfg.StepsPerM)
	return CarriagePos{A: steps, B: steps, C: steps}
}

// trilaterate intersects three spheres of equal squared radius rod2
// centered at the given points, picking the solution below the
// carriages. Same construction as the classic delta trilateration.
func trilaterate(s [3][3]float64, rod2 float64) (x, y, z float64, ok bool) {
	var s21, s31 [3]float64
	for i := 0; i < 3; i++ {
		s21[i] = s[1][i] - s[0][i]
		s31[i] = s[2][i] - s[0][i]
	}

	d := math.Sqrt(s21[0]*s21[0] + s21[1]*s21[1] + s21[2]*s21[2])
	if d == 0 {
		return 0, 0, 0, false
	}
	ex := [3]float64{s21[0] / d, s21[1] / d, s21[2] / d}

	i := ex[0]*s31[0] + ex[1]*s31[1] + ex[2]*s31[2]
	vy := [3]float64{s31[0] - ex[0]*i, s31[1] - ex[1]*i, s31[2] - ex[2]*i}
	vyMag := math.Sqrt(vy[0]*vy[0] + vy[1]*vy[1] + vy[2]*vy[2])
	if vyMag == 0 {
		return 0, 0, 0, false
	}
	ey := [3]float64{vy[0] / vyMag, vy[1] / vyMag, vy[2] / vyMag}

	ez := [3]float64{
		ex[1]*ey[2] - ex[2]*ey[1],
		ex[2]*ey[0] - ex[0]*ey[2],
		ex[0]*ey[1] - ex[1]*ey[0],
	}

	j := ey[0]*s31[0] + ey[1]*s31[1] + ey[2]*s31[2]
	if j == 0 {
		return 0, 0, 0, false
	}

	px := d / 2.0
	py := (i*i + j*j - 2.0*i*px) / (2.0 * j)
	pz2 := rod2 - px*px - py*py
	if pz2 < 0 {
		return 0, 0, 0, false
	}
	pz := -math.Sqrt(pz2)

	x = s[0][0] + ex[0]*px + ey[0]*py + ez[0]*pz
	y = s[0][1] + ex[1]*px + ey[1]*py + ez[1]*pz
	z = s[0][2] + ex[2]*px + ey[2]*py + ez[2]*pz
	return x, y, z, true
}
