// DMA GPIO pulse emitter
//
// Streams a move's chain segments into a ring of control blocks that
// the DMA engine consumes while the producer refills behind it. The
// sync point is the tail block's next pointer: a block is fully
// written before the previous tail is patched to reach it, so the
// engine never observes a half-built block.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package dma

import (
	"runtime"
	"sync/atomic"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
	"printipi-go-migration/pkg/log"
	"printipi-go-migration/pkg/units"
)

const (
	// ringPages sizes the control block ring; one page holds 128
	// blocks, so four pages buffer 512 blocks: about 2 ms of 4 us
	// ticks with every tick occupied, and longer when blocks carry
	// WAITS.
	ringPages = 4

	// safetyMargin is how many slots the producer stays clear of the
	// engine's fetch position.
	safetyMargin = 2
)

// EventSource yields time-ordered GPIO events, ending with motion.Done.
type EventSource interface {
	Next() (GPIOEvent, error)
	Drain() ([]GPIOEvent, error)
}

// Emitter owns a DMA channel, its pacing clock, and the locked ring
// memory. A single producer goroutine calls Play; the engine is the
// only consumer.
type Emitter struct {
	eng   *Engine
	pacer *Pacer
	cbs   *Pages
	srcs  *Pages

	n      int
	slotOf map[uint32]int

	produced uint64 // next sequence number to write
	consumed uint64 // lower bound on sequences the engine has passed

	logger *log.Logger
}

// NewEmitter allocates the control block ring and its source words in
// locked pages.
func NewEmitter(eng *Engine, pacer *Pacer) (*Emitter, error) {
	cbs, err := AllocPages(ringPages)
	if err != nil {
		return nil, err
	}
	n := cbs.NumCBs()
	srcs, err := AllocPages((n*4 + pageSize - 1) / pageSize)
	if err != nil {
		cbs.Close()
		return nil, err
	}

	em := &Emitter{
		eng:    eng,
		pacer:  pacer,
		cbs:    cbs,
		srcs:   srcs,
		n:      n,
		slotOf: make(map[uint32]int, n),
		logger: log.Default().Component("dma.emitter"),
	}
	for i := 0; i < n; i++ {
		em.slotOf[cbs.BusCBAddr(i)] = i
	}
	return em, nil
}

// RingSize returns the number of control block slots.
func (em *Emitter) RingSize() int {
	return em.n
}

// Play lowers the source's events into a chain and drives it through
// the engine, blocking until the chain drains or fails.
func (em *Emitter) Play(events EventSource) error {
	evs, err := events.Drain()
	if err != nil {
		return err
	}
	chain := BuildChain(evs, em.pacer.TickUs())
	if len(chain.Segs) == 0 {
		return nil
	}
	em.logger.Debugf("playing chain: %d segments, %d events, start tick %d",
		len(chain.Segs), len(evs), chain.StartTick)

	em.produced = 0
	em.consumed = 0

	// Prime as much of the ring as fits before starting the engine.
	prime := len(chain.Segs)
	if max := em.n - safetyMargin; prime > max {
		prime = max
	}
	for i := 0; i < prime; i++ {
		em.writeSegment(chain.Segs[i])
	}

	em.eng.Enable()
	if err := em.eng.Start(em.cbs.BusCBAddr(0)); err != nil {
		return err
	}

	for _, seg := range chain.Segs[prime:] {
		if err := em.waitSlot(); err != nil {
			em.halt()
			return err
		}
		em.writeSegment(seg)
	}

	for em.eng.Active() {
		runtime.Gosched()
	}
	return em.eng.CheckDebug()
}

// writeSegment fills the next ring slot and links it in. The tail
// patch is the publication point, so the block contents are stored
// before the previous next pointer flips.
func (em *Emitter) writeSegment(seg Segment) {
	slot := int(em.produced % uint64(em.n))

	*em.srcs.Word(slot) = seg.Value
	dest := gpio.SetRegBusAddr()
	if seg.Dest == DestClear {
		dest = gpio.ClearRegBusAddr()
	}

	cb := em.cbs.CB(slot)
	cb.TI = TINoWideBursts | TIDestDreq | TIPermap(PermapPWM) | TIWaits(seg.Waits)
	cb.SourceAd = em.srcs.BusWordAddr(slot)
	cb.DestAd = dest
	cb.TxfrLen = 4
	cb.Stride = 0
	atomic.StoreUint32(&cb.NextConbk, 0)

	if em.produced > 0 {
		prev := em.cbs.CB(int((em.produced - 1) % uint64(em.n)))
		atomic.StoreUint32(&prev.NextConbk, em.cbs.BusCBAddr(slot))
	}
	em.produced++
}

// waitSlot blocks until the next slot is at least the safety margin
// behind the engine's fetch position. A stopped engine here means the
// chain hit its zero tail before the producer caught up.
func (em *Emitter) waitSlot() error {
	for em.produced-em.consumed >= uint64(em.n-safetyMargin) {
		cur := em.eng.ConblkAd()
		if cur == 0 || !em.eng.Active() {
			return errors.RealtimeUnderrunError(uint64(em.produced))
		}
		if slot, ok := em.slotOf[cur]; ok {
			c := em.consumed
			for c < em.produced && int(c%uint64(em.n)) != slot {
				c++
			}
			em.consumed = c
		}
		runtime.Gosched()
	}
	return nil
}

// halt enters the fatal-error path: stop the engine, then drop every
// registered pin to its default state.
func (em *Emitter) halt() {
	if err := em.eng.Reset(); err != nil {
		em.logger.Errorf("reset after underrun: %v", err)
	}
	gpio.DeactivateAll()
}

// TickUs returns the pacing period.
func (em *Emitter) TickUs() uint64 {
	return em.pacer.TickUs()
}

// PulseTicks converts a pulse width to whole ticks, rounding up so the
// pulse is never shorter than requested.
func (em *Emitter) PulseTicks(width units.Microseconds) uint64 {
	t := em.pacer.TickUs()
	return (uint64(width) + t - 1) / t
}

// Close halts the engine and releases the ring. The pages are only
// unpinned after the reset completes.
func (em *Emitter) Close() error {
	err := em.eng.Reset()
	if cerr := em.cbs.Close(); err == nil {
		err = cerr
	}
	if cerr := em.srcs.Close(); err == nil {
		err = cerr
	}
	return err
}
