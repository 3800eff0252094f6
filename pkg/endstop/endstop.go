// Endstop switches and the homing monitor
//
// Each tower carries one switch at its top. There is no interrupt
// path on these inputs; during homing a monitor polls them at a 100
// microsecond cadence, records the carriage position at first
// assertion, and retires the axis from the step merge. Outside homing
// an asserted switch aborts the job.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package endstop

import (
	"context"
	"sync"
	"time"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
	"printipi-go-migration/pkg/log"
	"printipi-go-migration/pkg/units"
)

// State is the last observed switch state.
type State int

const (
	StateOpen State = iota
	StateTriggered
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// Endstop is one switch on one tower axis. Read inversion and pull
// direction are handled by the pin layer.
type Endstop struct {
	mu    sync.RWMutex
	name  string
	axis  int
	pin   *gpio.Pin
	state State
}

// New wraps a configured input pin as an endstop.
func New(name string, axis int, pin *gpio.Pin) *Endstop {
	pin.MakeInput()
	return &Endstop{name: name, axis: axis, pin: pin, state: StateUnknown}
}

// Name returns the configured switch name.
func (e *Endstop) Name() string {
	return e.name
}

// Axis returns the tower axis this switch terminates.
func (e *Endstop) Axis() int {
	return e.axis
}

// Query samples the pin and updates the cached state.
func (e *Endstop) Query() State {
	triggered := e.pin.Read() == gpio.High
	e.mu.Lock()
	if triggered {
		e.state = StateTriggered
	} else {
		e.state = StateOpen
	}
	s := e.state
	e.mu.Unlock()
	return s
}

// LastState returns the cached state without touching the pin.
func (e *Endstop) LastState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Result holds the outcome of a homing pass: the carriage step count
// each tower had reached when its switch asserted.
type Result struct {
	Carriage [3]int64
	Time     [3]units.Microseconds
}

// Clock provides the timestamp recorded at each assertion.
type Clock interface {
	Now() units.Microseconds
}

// Monitor polls the three tower endstops.
type Monitor struct {
	stops    [3]*Endstop
	clock    Clock
	interval time.Duration
	logger   *log.Logger
}

// NewMonitor builds a monitor over the three tower switches, polled
// every 100 us.
func NewMonitor(a, b, c *Endstop, clock Clock) *Monitor {
	return &Monitor{
		stops:    [3]*Endstop{a, b, c},
		clock:    clock,
		interval: 100 * time.Microsecond,
		logger:   log.Default().Component("endstop"),
	}
}

// Watch polls until every tower switch has asserted or the context is
// cancelled. On each first assertion, pos is consulted for the axis's
// current carriage step count and drop retires its step stream.
func (m *Monitor) Watch(ctx context.Context, pos func(axis int) int64, drop func(axis int)) (Result, error) {
	var res Result
	var homed [3]bool
	remaining := 3

	for remaining > 0 {
		select {
		case <-ctx.Done():
			return res, errors.Wrap(ctx.Err(), errors.ErrRuntime, "homing cancelled")
		default:
		}
		for i, e := range m.stops {
			if homed[i] {
				continue
			}
			if e.Query() == StateTriggered {
				homed[i] = true
				remaining--
				res.Carriage[i] = pos(i)
				if m.clock != nil {
					res.Time[i] = m.clock.Now()
				}
				drop(i)
				m.logger.Infof("%s asserted at %d steps", e.Name(), res.Carriage[i])
			}
		}
		if remaining > 0 {
			time.Sleep(m.interval)
		}
	}
	return res, nil
}

// CheckIdle samples every switch outside homing. An asserted switch
// means the carriage is somewhere it should not be.
func (m *Monitor) CheckIdle() error {
	for _, e := range m.stops {
		if e.Query() == StateTriggered {
			return errors.UnexpectedEndstopError(e.Name())
		}
	}
	return nil
}
