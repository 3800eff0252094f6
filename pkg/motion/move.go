// Parametric moves
//
// A Move pairs Cartesian endpoints with a velocity profile and exposes
// each axis's carriage position as a function of elapsed time. The
// endpoints are validated against the delta geometry at construction,
// so every point along the segment is reachable: the rod-reach and
// build-radius constraints both describe convex regions.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"

	"printipi-go-migration/pkg/kinematics"
	"printipi-go-migration/pkg/units"
)

// Move is a straight-line Cartesian segment with extrusion, traversed
// under a trapezoidal velocity profile.
type Move struct {
	dm    *kinematics.DeltaMap
	start kinematics.Position
	end   kinematics.Position

	startC kinematics.CarriagePos
	endC   kinematics.CarriagePos

	prof Profile
}

// NewMove validates the endpoints against the geometry and builds the
// velocity profile. maxVel is um/s, accel um/s^2. Extrusion-only moves
// profile over the extrusion distance instead of the path length.
func NewMove(dm *kinematics.DeltaMap, start, end kinematics.Position, maxVel, accel float64) (*Move, error) {
	startC, err := dm.Forward(start)
	if err != nil {
		return nil, err
	}
	endC, err := dm.Forward(end)
	if err != nil {
		return nil, err
	}

	dx := float64(end.X - start.X)
	dy := float64(end.Y - start.Y)
	dz := float64(end.Z - start.Z)
	dist := units.SaturateI64(math.Sqrt(dx*dx + dy*dy + dz*dz))
	if dist == 0 {
		dist = (end.E - start.E).Abs()
	}

	prof, err := NewProfile(dist, maxVel, accel)
	if err != nil {
		return nil, err
	}
	return &Move{
		dm:     dm,
		start:  start,
		end:    end,
		startC: startC,
		endC:   endC,
		prof:   prof,
	}, nil
}

// Duration returns the total move time.
func (m *Move) Duration() units.Microseconds {
	return m.prof.Duration()
}

// Profile returns the move's velocity profile.
func (m *Move) Profile() Profile {
	return m.prof
}

// StartCarriage returns the carriage position at the start point.
func (m *Move) StartCarriage() kinematics.CarriagePos {
	return m.startC
}

// EndCarriage returns the carriage position at the end point.
func (m *Move) EndCarriage() kinematics.CarriagePos {
	return m.endC
}

// pointAt interpolates the Cartesian target at path fraction f.
func (m *Move) pointAt(f float64) kinematics.Position {
	return kinematics.Position{
		X: lerp(m.start.X, m.end.X, f),
		Y: lerp(m.start.Y, m.end.Y, f),
		Z: lerp(m.start.Z, m.end.Z, f),
		E: lerp(m.start.E, m.end.E, f),
	}
}

// carriageAt returns one axis's carriage position in micrometers at
// path fraction f. The segment never leaves the reachable volume, so a
// reach failure here means the endpoints were not validated.
func (m *Move) carriageAt(axis int, f float64) (units.Micrometers, error) {
	p := m.pointAt(f)
	if axis == kinematics.AxisE {
		return p.E, nil
	}
	lp := m.dm.Level(p)
	return m.dm.CarriageHeight(axis, lp.X, lp.Y, lp.Z)
}

// carriageAtTime returns one axis's carriage position at elapsed time
// tUs along the profile.
func (m *Move) carriageAtTime(axis int, tUs float64) (units.Micrometers, error) {
	return m.carriageAt(axis, m.prof.fractionAt(tUs))
}

// Planners returns one step planner per axis. Axes with no net carriage
// motion yield an immediately drained planner.
func (m *Move) Planners() []*AxisPlanner {
	cfg := m.dm.Config()
	scales := [kinematics.NumAxes]units.StepsPerMeter{
		cfg.StepsPerM, cfg.StepsPerM, cfg.StepsPerM, cfg.StepsPerMExt,
	}
	planners := make([]*AxisPlanner, kinematics.NumAxes)
	for axis := 0; axis < kinematics.NumAxes; axis++ {
		planners[axis] = newAxisPlanner(m, axis, scales[axis])
	}
	return planners
}

func lerp(a, b units.Micrometers, f float64) units.Micrometers {
	return a + units.SaturateI64(f*float64(b-a))
}
