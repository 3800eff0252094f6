// Heater loop and slow software PWM
//
// The heater runs on a slow cadence independent of motion: each tick
// samples the thermistor, filters it, runs the PID, and updates the
// duty of a software PWM whose period is on the order of a second.
// A startup watchdog arms whenever a nonzero setpoint is applied;
// if the filtered temperature fails to rise by the
// configured amount within the window, the heater is declared runaway
// and forced off. Any sensor fault likewise forces the heater off.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package temperature

import (
	"context"
	"sync"
	"time"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
	"printipi-go-migration/pkg/log"
)

// SlowPWM drives a pin with second-scale software PWM. Duty changes
// take effect at the next period boundary.
type SlowPWM struct {
	pin    *gpio.Pin
	period time.Duration

	mu   sync.Mutex
	duty float64
}

// NewSlowPWM wraps an output pin. The pin is driven low immediately.
func NewSlowPWM(pin *gpio.Pin, period time.Duration) *SlowPWM {
	pin.MakeOutput(gpio.Low)
	return &SlowPWM{pin: pin, period: period}
}

// SetDuty sets the on fraction, clamped to [0, 1].
func (p *SlowPWM) SetDuty(d float64) {
	if d < 0 {
		d = 0
	}
	if d > 1 {
		d = 1
	}
	p.mu.Lock()
	p.duty = d
	p.mu.Unlock()
}

// Duty returns the current on fraction.
func (p *SlowPWM) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// ForceOff zeroes the duty and drives the pin low without waiting for
// the period boundary.
func (p *SlowPWM) ForceOff() {
	p.SetDuty(0)
	p.pin.Write(gpio.Low)
}

// Run toggles the pin until the context is cancelled, then leaves it
// low.
func (p *SlowPWM) Run(ctx context.Context) {
	for {
		d := p.Duty()
		on := time.Duration(d * float64(p.period))
		if on > 0 {
			p.pin.Write(gpio.High)
			if !sleepCtx(ctx, on) {
				p.pin.Write(gpio.Low)
				return
			}
		}
		if off := p.period - on; off > 0 {
			p.pin.Write(gpio.Low)
			if !sleepCtx(ctx, off) {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Sampler yields temperature readings.
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

// HeaterConfig sets the loop cadence and the runaway watchdog.
type HeaterConfig struct {
	Name           string
	SampleInterval time.Duration
	RunawayWindow  time.Duration
	RunawayRise    float64 // degrees the watchdog must observe
}

// Heater closes the loop from thermistor to PWM duty.
type Heater struct {
	cfg     HeaterConfig
	sampler Sampler
	pwm     *SlowPWM
	pid     *PID
	filt    *LowPass
	logger  *log.Logger

	mu         sync.Mutex
	target     float64
	last       float64
	smoothed   float64
	armPending bool
	armedAt    float64
	armedTemp  float64
	armed      bool
}

// NewHeater wires the loop components together. Run must be called
// for the heater to do anything.
func NewHeater(cfg HeaterConfig, sampler Sampler, pwm *SlowPWM, pid *PID, filt *LowPass) *Heater {
	return &Heater{
		cfg:     cfg,
		sampler: sampler,
		pwm:     pwm,
		pid:     pid,
		filt:    filt,
		logger:  log.Default().Component("temperature.heater"),
	}
}

// SetTarget sets the setpoint in degrees Celsius. A nonzero setpoint
// arms the runaway watchdog at the next sample.
func (h *Heater) SetTarget(deg float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.target = deg
	h.armed = false
	h.armPending = deg > 0
	if deg > 0 {
		h.pid.Reset()
	}
	h.logger.Infof("%s target %.1f C", h.cfg.Name, deg)
}

// Temperature returns the filtered reading and the setpoint.
func (h *Heater) Temperature() (current, target float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.smoothed, h.target
}

// Duty returns the PWM on fraction currently commanded.
func (h *Heater) Duty() float64 {
	return h.pwm.Duty()
}

// Settled reports whether the loop has converged on the setpoint.
func (h *Heater) Settled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid.Settled(h.smoothed, h.target)
}

// ForceOff zeroes the setpoint and drives the heater pin low.
func (h *Heater) ForceOff() {
	h.mu.Lock()
	h.target = 0
	h.armed = false
	h.armPending = false
	h.mu.Unlock()
	h.pwm.ForceOff()
}

// Run samples on the configured cadence until the context is
// cancelled or a fault fires. The heater is off when Run returns.
func (h *Heater) Run(ctx context.Context) error {
	start := time.Now()
	ticker := time.NewTicker(h.cfg.SampleInterval)
	defer ticker.Stop()
	defer h.ForceOff()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		temp, err := h.sampler.Sample(ctx)
		if err != nil {
			h.logger.Errorf("%s sensor fault: %v", h.cfg.Name, err)
			return err
		}
		if err := h.update(time.Since(start).Seconds(), temp); err != nil {
			h.logger.Errorf("%s: %v", h.cfg.Name, err)
			return err
		}
	}
}

// update folds one reading into the loop. now is in seconds on the
// loop's own timebase.
func (h *Heater) update(now, temp float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = temp
	h.smoothed = h.filt.Update(now, temp)

	if h.armPending {
		h.armPending = false
		h.armed = true
		h.armedAt = now
		h.armedTemp = h.smoothed
	}
	if h.armed && h.target > 0 {
		rise := h.smoothed - h.armedTemp
		switch {
		case rise >= h.cfg.RunawayRise || h.smoothed >= h.target:
			h.armed = false
		case now-h.armedAt > h.cfg.RunawayWindow.Seconds():
			return errors.HeaterRunawayError(h.cfg.Name, rise, h.cfg.RunawayRise)
		}
	}

	duty := 0.0
	if h.target > 0 {
		duty = h.pid.Update(now, h.smoothed, h.target)
	}
	h.pwm.SetDuty(duty)
	return nil
}
