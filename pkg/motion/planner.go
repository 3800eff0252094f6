// Per-axis step planner
//
// Emits the step times one carriage must realize during a move. The
// carriage position is a nonlinear function of elapsed time for the
// tower axes, so each step time is found by bisection on the time
// axis, seeded from the previous step and converged to 1 us.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	stderrors "errors"
	"math"

	"printipi-go-migration/pkg/units"
)

// Done reports a drained step stream. It is the normal completion
// signal, not a failure.
var Done = stderrors.New("move complete")

// StepEvent is one motor step on one axis.
type StepEvent struct {
	Axis int
	Time units.Microseconds
	Dir  int8 // +1 or -1
}

// StepSource produces a strictly time-ordered stream of step events for
// a single axis. Next returns Done when the stream is drained.
type StepSource interface {
	Axis() int
	Next() (StepEvent, error)
}

// AxisPlanner walks one axis from its start carriage position to its
// end, one whole motor step at a time. Restart requires reconstruction.
type AxisPlanner struct {
	move  *Move
	axis  int
	scale units.StepsPerMeter

	startSteps int64
	sign       int64
	total      int64

	k     int64   // next step ordinal, 1-based
	seedT float64 // bisection lower bound, us
	lastT units.Microseconds
}

func newAxisPlanner(m *Move, axis int, scale units.StepsPerMeter) *AxisPlanner {
	start := m.startC.Axis(axis)
	end := m.endC.Axis(axis)
	p := &AxisPlanner{
		move:       m,
		axis:       axis,
		scale:      scale,
		startSteps: start,
		sign:       1,
		total:      end - start,
		k:          1,
	}
	if p.total < 0 {
		p.sign = -1
		p.total = -p.total
	}
	return p
}

// Axis returns the axis id this planner drives.
func (p *AxisPlanner) Axis() int {
	return p.axis
}

// Remaining returns the number of steps not yet emitted.
func (p *AxisPlanner) Remaining() int64 {
	return p.total - p.k + 1
}

// Next returns the time and direction of the next step, or Done when
// the axis has reached its end carriage position.
func (p *AxisPlanner) Next() (StepEvent, error) {
	if p.k > p.total {
		return StepEvent{}, Done
	}

	target := units.StepToPosition(p.startSteps+p.sign*p.k, p.scale)
	lo := p.seedT
	hi := float64(p.move.Duration())
	for hi-lo > 1.0 {
		mid := (lo + hi) / 2
		c, err := p.move.carriageAtTime(p.axis, mid)
		if err != nil {
			return StepEvent{}, err
		}
		if p.sign*(int64(c)-int64(target)) >= 0 {
			hi = mid
		} else {
			lo = mid
		}
	}

	t := units.Microseconds(math.Round(hi))
	if p.k > 1 && t <= p.lastT {
		t = p.lastT + 1
	}
	p.seedT = lo
	p.lastT = t
	p.k++
	return StepEvent{Axis: p.axis, Time: t, Dir: int8(p.sign)}, nil
}
