// Machine profile
//
// MachineConfig is the typed view of the whole config file. The
// defaults describe the Kossel delta this firmware was brought up on;
// a config file overrides any subset of them section by section.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"time"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
	"printipi-go-migration/pkg/kinematics"
	"printipi-go-migration/pkg/temperature"
	"printipi-go-migration/pkg/units"
)

// AxisPins is the step/direction pair of one stepper driver.
type AxisPins struct {
	Step PinDesc
	Dir  PinDesc
}

// MachineConfig carries every tunable the firmware consumes.
type MachineConfig struct {
	// Delta geometry, micrometers.
	TowerRadius units.Micrometers
	RodLength   units.Micrometers
	HomeHeight  units.Micrometers
	BuildRadius units.Micrometers

	StepsPerM    units.StepsPerMeter
	StepsPerMExt units.StepsPerMeter

	// Motion limits. Rates in mm/s, acceleration in um/s^2.
	MaxMoveRate float64
	MaxExtRate  float64
	HomeRate    float64
	MaxAccel    float64

	BedLevel kinematics.Matrix3

	// Step generation.
	TickHz       uint32
	PulseWidthUs units.Microseconds
	DMAChannel   int

	// Pins.
	Axes       [kinematics.NumAxes]AxisPins
	EnablePin  PinDesc
	Endstops   [3]PinDesc
	ThermPin   PinDesc
	HotendPin  PinDesc
	FanPin     PinDesc

	// Thermal loop.
	Thermistor    temperature.ThermistorConfig
	PID           temperature.PIDConfig
	LPFTauSeconds float64
	PWMPeriod     time.Duration
	SampleEvery   time.Duration
	RunawayWindow time.Duration
	RunawayRise   float64
}

// DefaultKossel returns the builtin Kossel profile.
func DefaultKossel() MachineConfig {
	return MachineConfig{
		TowerRadius: 111_000,
		RodLength:   221_000,
		HomeHeight:  467_330,
		BuildRadius: 85_000,

		StepsPerM:    6265 * 4,
		StepsPerMExt: 10_000 * 8,

		MaxMoveRate: 50,
		MaxExtRate:  60,
		HomeRate:    10,
		MaxAccel:    1_200_000,

		BedLevel: kinematics.Identity(),

		TickHz:       250_000,
		PulseWidthUs: 4,
		DMAChannel:   5,

		Axes: [kinematics.NumAxes]AxisPins{
			{Step: PinDesc{Number: 25}, Dir: PinDesc{Number: 11}},
			{Step: PinDesc{Number: 10}, Dir: PinDesc{Number: 9}},
			{Step: PinDesc{Number: 27}, Dir: PinDesc{Number: 22}},
			{Step: PinDesc{Number: 2}, Dir: PinDesc{Number: 3}},
		},
		// Driver enable is active-low.
		EnablePin: PinDesc{Number: 23, Invert: true},
		// Switches read low when struck; the pin layer inverts so a
		// struck switch reads logical high.
		Endstops: [3]PinDesc{
			{Number: 24, Invert: true, Pull: gpio.PullDown},
			{Number: 8, Invert: true, Pull: gpio.PullDown},
			{Number: 7, Invert: true, Pull: gpio.PullDown},
		},
		ThermPin:  PinDesc{Number: 4},
		HotendPin: PinDesc{Number: 15, Invert: true},
		FanPin:    PinDesc{Number: 14},

		Thermistor: temperature.ThermistorConfig{
			SeriesOhms:          665,
			CapacitanceFarads:   2.2e-6,
			VccMillivolts:       3300,
			ThresholdMillivolts: 1600,
			T0Celsius:           25,
			R0Ohms:              100_000,
			Beta:                3950,
			ChargeTime:          10 * time.Millisecond,
			MinDischarge:        1_000,
			MaxDischarge:        1_000_000,
		},
		PID: temperature.PIDConfig{
			Kp:        0.018,
			Ki:        0.00025,
			Kd:        0.001,
			MaxPower:  1.0,
			DerivTime: 3.0,
		},
		LPFTauSeconds: 3.0,
		PWMPeriod:     2 * time.Second,
		SampleEvery:   100 * time.Millisecond,
		RunawayWindow: 40 * time.Second,
		RunawayRise:   5,
	}
}

// DeltaConfig assembles the kinematics parameters.
func (m *MachineConfig) DeltaConfig() kinematics.DeltaConfig {
	return kinematics.DeltaConfig{
		TowerRadius:  m.TowerRadius,
		RodLength:    m.RodLength,
		HomeHeight:   m.HomeHeight,
		BuildRadius:  m.BuildRadius,
		StepsPerM:    m.StepsPerM,
		StepsPerMExt: m.StepsPerMExt,
		BedLevel:     m.BedLevel,
	}
}

// MaxVelocityUm returns the move rate cap in um/s.
func (m *MachineConfig) MaxVelocityUm() float64 {
	return m.MaxMoveRate * 1000
}

// HomeVelocityUm returns the homing rate in um/s.
func (m *MachineConfig) HomeVelocityUm() float64 {
	return m.HomeRate * 1000
}

// LoadMachine reads a config file over the Kossel defaults. A missing
// path returns the defaults untouched.
func LoadMachine(path string) (MachineConfig, error) {
	m := DefaultKossel()
	if path == "" {
		return m, nil
	}
	c, err := Load(path)
	if err != nil {
		return m, err
	}
	if err := m.apply(c); err != nil {
		return m, err
	}
	if err := c.CheckUnused(); err != nil {
		return m, err
	}
	return m, nil
}

// MachineFromConfig overlays parsed sections onto the defaults.
func MachineFromConfig(c *Config) (MachineConfig, error) {
	m := DefaultKossel()
	if err := m.apply(c); err != nil {
		return m, err
	}
	return m, nil
}

func (m *MachineConfig) apply(c *Config) error {
	if s := c.SectionOptional("delta"); s != nil {
		if err := applyAll(
			millimeterOpt(s, "tower_radius", &m.TowerRadius),
			millimeterOpt(s, "rod_length", &m.RodLength),
			millimeterOpt(s, "home_height", &m.HomeHeight),
			millimeterOpt(s, "build_radius", &m.BuildRadius),
			stepsOpt(s, "steps_per_m", &m.StepsPerM),
			stepsOpt(s, "steps_per_m_ext", &m.StepsPerMExt),
		); err != nil {
			return err
		}
		if s.HasOption("bed_level") {
			vals, err := s.GetIntList("bed_level")
			if err != nil {
				return err
			}
			if len(vals) != 9 {
				return errors.ConfigValidationError("delta", "bed_level",
					"need 9 matrix entries")
			}
			var entries [9]int64
			copy(entries[:], vals)
			m.BedLevel = kinematics.NewMatrix3(entries)
		}
	}

	if s := c.SectionOptional("motion"); s != nil {
		if err := applyAll(
			floatOpt(s, "max_move_rate", &m.MaxMoveRate),
			floatOpt(s, "max_ext_rate", &m.MaxExtRate),
			floatOpt(s, "home_rate", &m.HomeRate),
			floatOpt(s, "max_accel", &m.MaxAccel),
		); err != nil {
			return err
		}
		if m.MaxMoveRate <= 0 || m.MaxAccel <= 0 || m.HomeRate <= 0 {
			return errors.ConfigValidationError("motion", "",
				"rates and acceleration must be positive")
		}
	}

	if s := c.SectionOptional("steppers"); s != nil {
		names := [kinematics.NumAxes][2]string{
			{"a_step_pin", "a_dir_pin"},
			{"b_step_pin", "b_dir_pin"},
			{"c_step_pin", "c_dir_pin"},
			{"e_step_pin", "e_dir_pin"},
		}
		for i, nm := range names {
			var err error
			m.Axes[i].Step, err = s.GetPin(nm[0], PinOptions{}, m.Axes[i].Step)
			if err != nil {
				return err
			}
			m.Axes[i].Dir, err = s.GetPin(nm[1], PinOptions{}, m.Axes[i].Dir)
			if err != nil {
				return err
			}
		}
		var err error
		m.EnablePin, err = s.GetPin("enable_pin", PinOptions{CanInvert: true}, m.EnablePin)
		if err != nil {
			return err
		}
	}

	if s := c.SectionOptional("endstops"); s != nil {
		opts := PinOptions{CanInvert: true, CanPull: true}
		for i, nm := range [3]string{"a_pin", "b_pin", "c_pin"} {
			var err error
			m.Endstops[i], err = s.GetPin(nm, opts, m.Endstops[i])
			if err != nil {
				return err
			}
		}
	}

	if s := c.SectionOptional("hotend"); s != nil {
		var err error
		m.ThermPin, err = s.GetPin("thermistor_pin", PinOptions{}, m.ThermPin)
		if err != nil {
			return err
		}
		m.HotendPin, err = s.GetPin("heater_pin", PinOptions{CanInvert: true}, m.HotendPin)
		if err != nil {
			return err
		}
		if err := applyAll(
			floatOpt(s, "pid_kp", &m.PID.Kp),
			floatOpt(s, "pid_ki", &m.PID.Ki),
			floatOpt(s, "pid_kd", &m.PID.Kd),
			floatOpt(s, "max_power", &m.PID.MaxPower),
			floatOpt(s, "smooth_time", &m.LPFTauSeconds),
			floatOpt(s, "runaway_rise", &m.RunawayRise),
			floatOpt(s, "therm_series_ohms", &m.Thermistor.SeriesOhms),
			floatOpt(s, "therm_capacitance_f", &m.Thermistor.CapacitanceFarads),
			floatOpt(s, "therm_t0", &m.Thermistor.T0Celsius),
			floatOpt(s, "therm_r0", &m.Thermistor.R0Ohms),
			floatOpt(s, "therm_beta", &m.Thermistor.Beta),
		); err != nil {
			return err
		}
	}

	if s := c.SectionOptional("fan"); s != nil {
		var err error
		m.FanPin, err = s.GetPin("pin", PinOptions{CanInvert: true}, m.FanPin)
		if err != nil {
			return err
		}
	}

	if s := c.SectionOptional("dma"); s != nil {
		ch, err := s.GetInt("channel", m.DMAChannel)
		if err != nil {
			return err
		}
		if ch < 0 || ch > 14 {
			return errors.ConfigValidationError("dma", "channel",
				"channel must be 0..14")
		}
		m.DMAChannel = ch
		hz, err := s.GetInt("tick_hz", int(m.TickHz))
		if err != nil {
			return err
		}
		if hz <= 0 || 1_000_000%hz != 0 {
			return errors.ConfigValidationError("dma", "tick_hz",
				"tick rate must divide 1 MHz")
		}
		m.TickHz = uint32(hz)
	}

	return nil
}

func applyAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func floatOpt(s *Section, option string, dst *float64) error {
	v, err := s.GetFloat(option, *dst)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func millimeterOpt(s *Section, option string, dst *units.Micrometers) error {
	v, err := s.GetMillimeters(option, *dst)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func stepsOpt(s *Section, option string, dst *units.StepsPerMeter) error {
	v, err := s.GetInt(option, int(*dst))
	if err != nil {
		return err
	}
	if v <= 0 {
		return errors.ConfigValidationError(s.name, option, "must be positive")
	}
	*dst = units.StepsPerMeter(v)
	return nil
}
