// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package temperature

// LowPass is a one-pole low-pass filter over an irregularly sampled
// series. The first sample primes the filter directly.
type LowPass struct {
	tau      float64
	value    float64
	lastTime float64
	primed   bool
}

// NewLowPass builds a filter with the given time constant in seconds.
func NewLowPass(tauSeconds float64) *LowPass {
	return &LowPass{tau: tauSeconds}
}

// Update folds one sample into the filter and returns the new value.
// The effective gain is dt/tau, clamped to 1 so a long gap snaps the
// filter to the sample instead of overshooting.
func (f *LowPass) Update(now, x float64) float64 {
	if !f.primed {
		f.value = x
		f.lastTime = now
		f.primed = true
		return x
	}
	dt := now - f.lastTime
	if dt < 0 {
		dt = 0
	}
	a := 1.0
	if f.tau > 0 && dt < f.tau {
		a = dt / f.tau
	}
	f.value += (x - f.value) * a
	f.lastTime = now
	return f.value
}

// Value returns the current filtered value.
func (f *LowPass) Value() float64 {
	return f.value
}
