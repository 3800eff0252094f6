// GPIO pin model for the printipi Go migration
//
// A Pin wraps a platform primitive with two orthogonal policy flags
// (invert reads, invert writes) and a declared default state. The
// wrapper performs all logical<->primitive translation so hardware
// drivers never see inversion logic. Every live Pin is tracked by the
// process-wide registry so that any exit path can return the hardware
// to a safe state.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gpio

// Level is a logical digital pin level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Invert returns the opposite level.
func (l Level) Invert() Level {
	return !l
}

// DefaultState declares where a pin must rest when the process exits.
type DefaultState int

const (
	// DefaultLow drives the pin to logical low on exit.
	DefaultLow DefaultState = iota

	// DefaultHigh drives the pin to logical high on exit.
	DefaultHigh

	// DefaultHighZ leaves the pin as a high-impedance input on exit.
	DefaultHighZ
)

func (s DefaultState) String() string {
	switch s {
	case DefaultLow:
		return "low"
	case DefaultHigh:
		return "high"
	case DefaultHighZ:
		return "high_z"
	default:
		return "unknown"
	}
}

// Pull selects the pad pull resistor direction.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// PrimitivePin is the platform-level pin capability. Implementations
// receive primitive levels; inversion has already been applied.
type PrimitivePin interface {
	// MakeOutput switches the pin to output mode already driving lev,
	// so the pin never passes through an undefined state.
	MakeOutput(lev Level)

	// MakeInput switches the pin to high-impedance input mode.
	MakeInput()

	// Read samples the primitive pin level.
	Read() Level

	// Write drives the primitive pin level. Output mode is assumed.
	Write(lev Level)

	// SetPull configures the pad pull resistor.
	SetPull(p Pull)
}

// Spec describes a pin's policy configuration.
type Spec struct {
	Name         string
	InvertReads  bool
	InvertWrites bool
	Default      DefaultState
	Pull         Pull
}

// Pin is a logical pin: a primitive plus inversion and default-state
// policy, registered for safe shutdown for as long as it is live.
type Pin struct {
	prim         PrimitivePin
	name         string
	invertReads  bool
	invertWrites bool
	defaultState DefaultState
}

// NewPin wraps prim according to spec and registers the result. Close
// the pin to deregister it; until then any shutdown drives it to its
// default state.
func NewPin(prim PrimitivePin, spec Spec) *Pin {
	p := &Pin{
		prim:         prim,
		name:         spec.Name,
		invertReads:  spec.InvertReads,
		invertWrites: spec.InvertWrites,
		defaultState: spec.Default,
	}
	if spec.Pull != PullNone {
		prim.SetPull(spec.Pull)
	}
	register(p)
	return p
}

// Name returns the configured pin name.
func (p *Pin) Name() string {
	return p.name
}

// translateWrite maps a logical write level to the primitive level.
func (p *Pin) translateWrite(lev Level) Level {
	if p.invertWrites {
		return lev.Invert()
	}
	return lev
}

// TranslateDuty maps a logical PWM duty cycle to the primitive duty.
func (p *Pin) TranslateDuty(duty float64) float64 {
	if p.invertWrites {
		return 1.0 - duty
	}
	return duty
}

// MakeOutput switches the pin to output mode driving the logical level.
func (p *Pin) MakeOutput(lev Level) {
	p.prim.MakeOutput(p.translateWrite(lev))
}

// MakeInput switches the pin to input mode.
func (p *Pin) MakeInput() {
	p.prim.MakeInput()
}

// Read samples the logical pin level.
func (p *Pin) Read() Level {
	lev := p.prim.Read()
	if p.invertReads {
		return lev.Invert()
	}
	return lev
}

// Write drives the logical pin level.
func (p *Pin) Write(lev Level) {
	p.prim.Write(p.translateWrite(lev))
}

// SetDefault changes the declared exit state.
func (p *Pin) SetDefault(state DefaultState) {
	p.defaultState = state
}

// SetToDefault drives the pin to its declared default state.
func (p *Pin) SetToDefault() {
	switch p.defaultState {
	case DefaultLow:
		p.MakeOutput(Low)
	case DefaultHigh:
		p.MakeOutput(High)
	case DefaultHighZ:
		p.MakeInput()
	}
}

// Primitive exposes the underlying platform pin.
func (p *Pin) Primitive() PrimitivePin {
	return p.prim
}

// InvertWrites reports whether logical writes are inverted on the wire.
func (p *Pin) InvertWrites() bool {
	return p.invertWrites
}

// Close drives the pin to its default state and deregisters it.
func (p *Pin) Close() {
	p.SetToDefault()
	deregister(p)
}

// TransferTo moves registry membership from p to other atomically. Used
// when pin ownership moves between drivers; exactly one of the two pins
// remains registered.
func (p *Pin) TransferTo(other *Pin) {
	transfer(p, other)
}
