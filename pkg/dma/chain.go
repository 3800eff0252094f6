// Control block chain synthesis
//
// Lowers timed GPIO events onto the DMA tick grid. Each chain segment
// is one paced 4-byte write to GPSET0 or GPCLR0; the write consumes
// one DREQ tick and its WAITS field absorbs up to 31 further idle
// ticks. Gaps longer than that are bridged with padding segments that
// write zero to GPSET0, which the GPIO block ignores.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package dma

import (
	stderrors "errors"

	"printipi-go-migration/pkg/kinematics"
	"printipi-go-migration/pkg/motion"
	"printipi-go-migration/pkg/units"
)

// GPIOEvent is one timed write to the GPIO set and clear registers.
type GPIOEvent struct {
	Time      units.Microseconds
	SetMask   uint32
	ClearMask uint32
}

// Dest selects the register a segment writes to.
type Dest uint8

const (
	DestSet Dest = iota
	DestClear
)

// Segment is one control block's worth of chain: a single word write
// plus an idle allowance.
type Segment struct {
	Value uint32
	Dest  Dest
	Waits uint32
}

// Chain is a tick-gridded schedule of register writes. Segment i's
// write lands at StartTick plus i's cumulative (1 + Waits) ticks.
type Chain struct {
	TickUs    uint64
	StartTick uint64
	Segs      []Segment
}

// BuildChain grids events onto the DMA tick period. Events must be
// non-decreasing in time; events sharing a tick land on consecutive
// ticks in input order.
func BuildChain(events []GPIOEvent, tickUs uint64) *Chain {
	c := &Chain{TickUs: tickUs}
	if len(events) == 0 {
		return c
	}
	c.StartTick = (uint64(events[0].Time) + tickUs/2) / tickUs

	cur := c.StartTick // tick the next segment will occupy
	emit := func(tick uint64, dest Dest, value uint32) {
		if tick < cur {
			tick = cur
		}
		for idle := tick - cur; idle > 0; {
			if len(c.Segs) > 0 && c.Segs[len(c.Segs)-1].Waits < MaxWaits {
				prev := &c.Segs[len(c.Segs)-1]
				take := uint64(MaxWaits - prev.Waits)
				if take > idle {
					take = idle
				}
				prev.Waits += uint32(take)
				idle -= take
				continue
			}
			// Padding write of zero, consuming one tick plus waits.
			pad := Segment{Dest: DestSet}
			span := idle
			if span > MaxWaits+1 {
				span = MaxWaits + 1
			}
			pad.Waits = uint32(span - 1)
			c.Segs = append(c.Segs, pad)
			idle -= span
		}
		c.Segs = append(c.Segs, Segment{Value: value, Dest: dest})
		cur = tick + 1
	}

	for _, ev := range events {
		tick := (uint64(ev.Time) + tickUs/2) / tickUs
		if ev.SetMask != 0 {
			emit(tick, DestSet, ev.SetMask)
		}
		if ev.ClearMask != 0 {
			emit(tick, DestClear, ev.ClearMask)
		}
	}
	return c
}

// WriteTimes returns the wall-clock microsecond at which each segment's
// register write occurs.
func (c *Chain) WriteTimes() []uint64 {
	times := make([]uint64, len(c.Segs))
	tick := c.StartTick
	for i, s := range c.Segs {
		times[i] = tick * c.TickUs
		tick += 1 + uint64(s.Waits)
	}
	return times
}

// AxisPins maps one axis to its step and direction lines.
type AxisPins struct {
	StepMask uint32
	DirMask  uint32
}

// Lowerer expands merged step events into GPIO pulse pairs. A step
// becomes a rising edge at its scheduled time and a falling edge one
// pulse width later. Direction line changes are emitted one tick ahead
// of the pulse, which gives the driver its direction setup time.
// Falling edges are re-merged with later steps so the output stays
// time-ordered.
type Lowerer struct {
	src        *motion.Merger
	pins       [kinematics.NumAxes]AxisPins
	pulseWidth units.Microseconds
	tickUs     uint64

	lastDir  [kinematics.NumAxes]int8
	pending  []GPIOEvent
	nextStep *motion.StepEvent
	drained  bool
}

// NewLowerer wraps a merged step stream.
func NewLowerer(src *motion.Merger, pins [kinematics.NumAxes]AxisPins, pulseWidth units.Microseconds, tickUs uint64) *Lowerer {
	return &Lowerer{src: src, pins: pins, pulseWidth: pulseWidth, tickUs: tickUs}
}

// Next returns the next GPIO event, or motion.Done when the step stream
// is drained.
func (l *Lowerer) Next() (GPIOEvent, error) {
	for {
		if l.nextStep == nil && !l.drained {
			st, err := l.src.Next()
			switch {
			case stderrors.Is(err, motion.Done):
				l.drained = true
			case err != nil:
				return GPIOEvent{}, err
			default:
				l.nextStep = &st
			}
		}
		if len(l.pending) > 0 && (l.nextStep == nil || l.pending[0].Time <= l.nextStep.Time) {
			ev := l.pending[0]
			l.pending = l.pending[1:]
			return ev, nil
		}
		if l.nextStep == nil {
			return GPIOEvent{}, motion.Done
		}
		st := *l.nextStep
		l.nextStep = nil
		l.expand(st)
	}
}

// expand queues the pulse events for one step in time order.
func (l *Lowerer) expand(st motion.StepEvent) {
	p := l.pins[st.Axis]
	rise := st.Time

	if l.lastDir[st.Axis] != st.Dir && p.DirMask != 0 {
		l.lastDir[st.Axis] = st.Dir
		dir := GPIOEvent{Time: st.Time}
		if st.Dir > 0 {
			dir.SetMask = p.DirMask
		} else {
			dir.ClearMask = p.DirMask
		}
		l.insert(dir)
		rise += units.Microseconds(l.tickUs)
	}
	l.insert(GPIOEvent{Time: rise, SetMask: p.StepMask})
	l.insert(GPIOEvent{Time: rise + l.pulseWidth, ClearMask: p.StepMask})
}

// insert keeps pending sorted by time, stable for equal times.
func (l *Lowerer) insert(ev GPIOEvent) {
	i := len(l.pending)
	for i > 0 && l.pending[i-1].Time > ev.Time {
		i--
	}
	l.pending = append(l.pending, GPIOEvent{})
	copy(l.pending[i+1:], l.pending[i:])
	l.pending[i] = ev
}

// Drain collects every remaining event. Used by the single-shot
// emitter path and by offline chain inspection.
func (l *Lowerer) Drain() ([]GPIOEvent, error) {
	var events []GPIOEvent
	for {
		ev, err := l.Next()
		if stderrors.Is(err, motion.Done) {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
}
