// RC-discharge thermistor readout
//
// The sensor pin charges a capacitor, then flips to input and times
// how long the thermistor takes to discharge it below the input
// threshold. The discharge duration gives the series resistance, and
// the beta equation gives the temperature. A duration outside the
// configured window means an open or shorted sensor; two such samples
// in a row are tolerated, a third raises a fault.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package temperature

import (
	"context"
	"math"
	"time"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
	"printipi-go-migration/pkg/log"
	"printipi-go-migration/pkg/units"
)

const (
	kelvinOffset = 273.15

	// faultDebounce is how many consecutive out-of-window discharges
	// are tolerated before the sensor is declared faulty.
	faultDebounce = 2
)

// ThermistorConfig carries the RC network and beta-model parameters.
type ThermistorConfig struct {
	SeriesOhms          float64 // resistor in series with the thermistor
	CapacitanceFarads   float64
	VccMillivolts       float64
	ThresholdMillivolts float64 // input threshold the discharge crosses
	T0Celsius           float64
	R0Ohms              float64
	Beta                float64

	ChargeTime   time.Duration
	MinDischarge units.Microseconds // below this the sensor is shorted
	MaxDischarge units.Microseconds // above this the sensor is open
}

// lnRatio is the log of the charge-to-threshold voltage ratio that
// the discharge curve crosses.
func (c ThermistorConfig) lnRatio() float64 {
	return math.Log(c.VccMillivolts / c.ThresholdMillivolts)
}

// Resistance solves the RC discharge equation for the thermistor
// resistance given the measured duration.
func (c ThermistorConfig) Resistance(d units.Microseconds) float64 {
	sec := float64(d) / units.MicrosecondsPerSecond
	return sec/(c.CapacitanceFarads*c.lnRatio()) - c.SeriesOhms
}

// Discharge is the inverse of Resistance: the duration a given
// resistance would produce.
func (c ThermistorConfig) Discharge(r float64) units.Microseconds {
	sec := (c.SeriesOhms + r) * c.CapacitanceFarads * c.lnRatio()
	return units.SaturateU64(sec * units.MicrosecondsPerSecond)
}

// Temperature converts a resistance to degrees Celsius with the beta
// model. At R0 it returns exactly T0.
func (c ThermistorConfig) Temperature(r float64) float64 {
	invT := 1/(c.T0Celsius+kelvinOffset) + math.Log(r/c.R0Ohms)/c.Beta
	return 1/invT - kelvinOffset
}

// Clock supplies the timestamps that bracket a discharge.
type Clock interface {
	Now() units.Microseconds
}

// Thermistor owns the sensor pin and the fault debounce state. Only
// the temperature loop touches it.
type Thermistor struct {
	cfg    ThermistorConfig
	pin    *gpio.Pin
	clock  Clock
	streak int
	kind   string
	last   float64
	logger *log.Logger
}

// NewThermistor wraps a sensor pin. The pin starts charging on the
// first Sample call.
func NewThermistor(cfg ThermistorConfig, pin *gpio.Pin, clock Clock) *Thermistor {
	return &Thermistor{
		cfg:    cfg,
		pin:    pin,
		clock:  clock,
		logger: log.Default().Component("temperature.thermistor"),
	}
}

// Sample runs one charge/discharge cycle and returns the temperature.
// During a debounced fault window the previous good reading is
// returned.
func (th *Thermistor) Sample(ctx context.Context) (float64, error) {
	th.pin.MakeOutput(gpio.High)
	select {
	case <-ctx.Done():
		th.pin.MakeInput()
		return 0, errors.Wrap(ctx.Err(), errors.ErrRuntime, "thermistor sample cancelled")
	case <-time.After(th.cfg.ChargeTime):
	}

	th.pin.MakeInput()
	start := th.clock.Now()
	var d units.Microseconds
	for {
		d = th.clock.Now() - start
		if th.pin.Read() == gpio.Low || d > th.cfg.MaxDischarge {
			break
		}
		select {
		case <-ctx.Done():
			return 0, errors.Wrap(ctx.Err(), errors.ErrRuntime, "thermistor sample cancelled")
		default:
		}
	}
	return th.observe(d)
}

// observe applies the fault window and debounce to one duration.
func (th *Thermistor) observe(d units.Microseconds) (float64, error) {
	var kind string
	switch {
	case d > th.cfg.MaxDischarge:
		kind = "open"
	case d < th.cfg.MinDischarge:
		kind = "short"
	}

	if kind == "" {
		th.streak = 0
		th.kind = ""
		th.last = th.cfg.Temperature(th.cfg.Resistance(d))
		return th.last, nil
	}

	if kind != th.kind {
		th.streak = 0
		th.kind = kind
	}
	th.streak++
	if th.streak > faultDebounce {
		return th.last, errors.ThermistorFaultError(kind, uint64(d))
	}
	th.logger.Warnf("%s discharge %d us (%d of %d tolerated)",
		kind, d, th.streak, faultDebounce)
	return th.last, nil
}
