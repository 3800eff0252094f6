// Pin specification grammar
//
// Pins are BCM numbers with optional policy prefixes:
//
//	^  pull-up        ~  pull-down        !  inverted logic
//
// so "^!17" is GPIO 17, pulled up, with inverted reads and writes.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"strconv"
	"strings"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
)

// PinDesc is a parsed pin specification.
type PinDesc struct {
	Number int
	Invert bool
	Pull   gpio.Pull
}

// PinOptions restricts which prefixes a given option accepts.
type PinOptions struct {
	CanInvert bool
	CanPull   bool
}

// ParsePin parses a pin specification string.
func ParsePin(desc string, opts PinOptions) (PinDesc, error) {
	d := strings.TrimSpace(desc)
	if d == "" {
		return PinDesc{}, errors.New(errors.ErrConfigValidation, "empty pin specification")
	}

	var p PinDesc
	for len(d) > 0 {
		switch d[0] {
		case '^':
			if !opts.CanPull {
				return PinDesc{}, errors.New(errors.ErrConfigValidation,
					"pull-up not allowed here: "+desc)
			}
			p.Pull = gpio.PullUp
		case '~':
			if !opts.CanPull {
				return PinDesc{}, errors.New(errors.ErrConfigValidation,
					"pull-down not allowed here: "+desc)
			}
			p.Pull = gpio.PullDown
		case '!':
			if !opts.CanInvert {
				return PinDesc{}, errors.New(errors.ErrConfigValidation,
					"inversion not allowed here: "+desc)
			}
			p.Invert = true
		default:
			n, err := strconv.Atoi(strings.TrimPrefix(d, "gpio"))
			if err != nil || n < 0 || n > 53 {
				return PinDesc{}, errors.New(errors.ErrConfigValidation,
					"invalid pin name: "+desc)
			}
			p.Number = n
			return p, nil
		}
		d = strings.TrimSpace(d[1:])
	}
	return PinDesc{}, errors.New(errors.ErrConfigValidation, "missing pin number: "+desc)
}

// Spec builds the gpio policy record for this pin.
func (p PinDesc) Spec(name string, def gpio.DefaultState) gpio.Spec {
	return gpio.Spec{
		Name:         name,
		InvertReads:  p.Invert,
		InvertWrites: p.Invert,
		Default:      def,
		Pull:         p.Pull,
	}
}

// GetPin reads and parses a pin option.
func (s *Section) GetPin(option string, opts PinOptions, fallback ...PinDesc) (PinDesc, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		s.markAccessed(option)
		p, err := ParsePin(v, opts)
		if err != nil {
			return PinDesc{}, errors.ConfigValidationError(s.name, option, err.Error())
		}
		return p, nil
	}
	if len(fallback) > 0 {
		s.markAccessed(option)
		return fallback[0], nil
	}
	return PinDesc{}, errors.ConfigOptionError(s.name, option)
}
