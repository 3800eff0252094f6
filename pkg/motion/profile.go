// Trapezoidal velocity profile
//
// Maps elapsed time to scalar distance along a move under a symmetric
// accelerate-cruise-decelerate profile, collapsing to a triangle when
// the cruise velocity is unreachable. TimeAt gives the inverse map
// t(s); the step planners bisect over elapsed time with the forward map.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/units"
)

// Profile is a symmetric trapezoidal velocity profile over a fixed
// distance. Velocities are um/s, accelerations um/s^2; times are
// carried as float64 seconds internally and exposed in microseconds.
type Profile struct {
	dist  float64 // total distance, um
	accel float64 // um/s^2
	vpeak float64 // um/s, min(vmax, sqrt(accel*dist))
	ta    float64 // accel phase duration, s
	tc    float64 // cruise phase duration, s
	da    float64 // distance covered during accel, um
}

// NewProfile builds a profile for the given distance and limits. The
// peak velocity is clamped to sqrt(accel*dist) so the profile always
// decelerates to zero exactly at dist.
func NewProfile(dist units.Micrometers, maxVel, accel float64) (Profile, error) {
	if dist < 0 {
		return Profile{}, errors.KinematicsError("profile distance must be non-negative")
	}
	if maxVel <= 0 || accel <= 0 {
		return Profile{}, errors.KinematicsError("velocity and acceleration limits must be positive")
	}

	d := float64(dist)
	vpeak := math.Min(maxVel, math.Sqrt(accel*d))
	p := Profile{dist: d, accel: accel, vpeak: vpeak}
	if d == 0 {
		return p, nil
	}
	p.ta = vpeak / accel
	p.da = vpeak * vpeak / (2 * accel)
	p.tc = (d - 2*p.da) / vpeak
	if p.tc < 0 {
		p.tc = 0
	}
	return p, nil
}

// PeakVelocity returns the clamped peak velocity in um/s.
func (p Profile) PeakVelocity() float64 {
	return p.vpeak
}

// Duration returns the total move time.
func (p Profile) Duration() units.Microseconds {
	return units.SaturateU64(p.durationSec() * units.MicrosecondsPerSecond)
}

func (p Profile) durationSec() float64 {
	return 2*p.ta + p.tc
}

// DistanceAt returns the distance traveled at time t, clamped to the
// profile's range.
func (p Profile) DistanceAt(t units.Microseconds) units.Micrometers {
	return units.SaturateI64(p.distAtSec(float64(t) / units.MicrosecondsPerSecond))
}

func (p Profile) distAtSec(t float64) float64 {
	switch {
	case t <= 0 || p.dist == 0:
		return 0
	case t < p.ta:
		return 0.5 * p.accel * t * t
	case t < p.ta+p.tc:
		return p.da + p.vpeak*(t-p.ta)
	case t < p.durationSec():
		r := p.durationSec() - t
		return p.dist - 0.5*p.accel*r*r
	default:
		return p.dist
	}
}

// TimeAt returns the earliest time at which the given distance has been
// covered. Monotonic in s.
func (p Profile) TimeAt(s units.Micrometers) units.Microseconds {
	return units.SaturateU64(p.timeAtDist(float64(s)) * units.MicrosecondsPerSecond)
}

func (p Profile) timeAtDist(s float64) float64 {
	switch {
	case s <= 0 || p.dist == 0:
		return 0
	case s < p.da:
		return math.Sqrt(2 * s / p.accel)
	case s < p.dist-p.da:
		return p.ta + (s-p.da)/p.vpeak
	case s < p.dist:
		return p.durationSec() - math.Sqrt(2*(p.dist-s)/p.accel)
	default:
		return p.durationSec()
	}
}

// fractionAt returns the path fraction s(t)/dist for a time in
// microseconds. Zero-distance profiles report full progress.
func (p Profile) fractionAt(tUs float64) float64 {
	if p.dist == 0 {
		return 1
	}
	return p.distAtSec(tUs/units.MicrosecondsPerSecond) / p.dist
}
