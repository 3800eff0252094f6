// PID heater control
//
// Standard PID over the filtered temperature with two guards: the
// derivative is smoothed over a minimum window so sample jitter does
// not dominate, and the integral only accumulates while the output is
// unsaturated, capped at the value that alone would command full
// power.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package temperature

import (
	"math"

	"printipi-go-migration/pkg/errors"
)

const (
	// SettleDelta is the error band inside which the loop counts as
	// settled.
	SettleDelta = 1.0

	// SettleSlope is the temperature slope below which the loop counts
	// as settled, in degrees per second.
	SettleSlope = 0.1
)

// PIDConfig holds normalized gains in power units per degree.
type PIDConfig struct {
	Kp, Ki, Kd float64
	MaxPower   float64 // output cap, at most 1
	DerivTime  float64 // derivative smoothing window, seconds
}

// PID is the controller state. Not safe for concurrent use; the
// temperature loop is its only caller.
type PID struct {
	cfg       PIDConfig
	integMax  float64
	prevTemp  float64
	prevTime  float64
	prevDeriv float64
	integ     float64
	primed    bool
}

// NewPID validates the gains and builds a controller.
func NewPID(cfg PIDConfig) (*PID, error) {
	if cfg.Kp <= 0 || cfg.Ki <= 0 || cfg.Kd < 0 {
		return nil, errors.New(errors.ErrConfigValidation, "PID gains must be positive")
	}
	if cfg.MaxPower <= 0 || cfg.MaxPower > 1 {
		return nil, errors.New(errors.ErrConfigValidation, "max power must be in (0, 1]")
	}
	return &PID{
		cfg:      cfg,
		integMax: cfg.MaxPower / cfg.Ki,
	}, nil
}

// Update folds one reading into the controller and returns the duty
// in [0, MaxPower]. now is in seconds.
func (p *PID) Update(now, temp, target float64) float64 {
	if !p.primed {
		p.prevTemp = temp
		p.prevTime = now
		p.primed = true
	}
	dt := now - p.prevTime

	var deriv float64
	if dt >= p.cfg.DerivTime {
		deriv = (temp - p.prevTemp) / dt
	} else if p.cfg.DerivTime > 0 {
		deriv = (p.prevDeriv*(p.cfg.DerivTime-dt) + temp - p.prevTemp) / p.cfg.DerivTime
	}

	err := target - temp
	integ := p.integ + err*dt
	integ = math.Max(0, math.Min(p.integMax, integ))

	co := p.cfg.Kp*err + p.cfg.Ki*integ - p.cfg.Kd*deriv
	bounded := math.Max(0, math.Min(p.cfg.MaxPower, co))

	p.prevTemp = temp
	p.prevTime = now
	p.prevDeriv = deriv
	// The integral holds while the output is pinned, so it cannot wind
	// up during the initial full-power climb.
	if co == bounded {
		p.integ = integ
	}
	return bounded
}

// Settled reports whether the loop has converged on the target.
func (p *PID) Settled(smoothed, target float64) bool {
	return math.Abs(target-smoothed) <= SettleDelta &&
		math.Abs(p.prevDeriv) <= SettleSlope
}

// Reset clears the controller state for a new setpoint ramp.
func (p *PID) Reset() {
	p.integ = 0
	p.prevDeriv = 0
	p.primed = false
}
