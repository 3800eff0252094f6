// DMA channel control
//
// Wraps one memory-mapped DMA channel: enable, start at a control
// block, observe the fetch position, and reset. The engine advances
// CONBLK_AD autonomously along the chain and clears ACTIVE when it
// loads a zero next-block pointer.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package dma

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"printipi-go-migration/pkg/errors"
)

// Engine is one DMA channel on the mapped controller block.
type Engine struct {
	fd      int
	mem     []byte
	words   []uint32
	channel int
}

// OpenEngine maps the DMA controller from /dev/mem and binds one
// channel. Requires root.
func OpenEngine(base uintptr, channel int) (*Engine, error) {
	if channel < 0 || channel > 14 {
		return nil, errors.RuntimeInitError("dma engine", "channel out of range")
	}
	fd, err := unix.Open("/dev/mem", unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrRuntimeInit, "open /dev/mem (are you root?)")
	}
	mem, err := unix.Mmap(fd, int64(base+DMAOffset), pageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrRuntimeInit, "mmap DMA controller")
	}
	return &Engine{
		fd:      fd,
		mem:     mem,
		words:   unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), pageSize/4),
		channel: channel,
	}, nil
}

// reg returns the channel-relative register at the given byte offset.
func (e *Engine) reg(off int) *uint32 {
	return &e.words[(e.channel*ChannelStride+off)/4]
}

// Enable sets the channel's bit in the global enable register.
func (e *Engine) Enable() {
	reg := &e.words[DMAEnable/4]
	v := *reg | 1<<uint(e.channel)
	*reg = v
	*reg = v
}

// Start resets the channel, clears stale debug flags, and activates
// the chain at the given bus address.
func (e *Engine) Start(busCBAddr uint32) error {
	if err := e.Reset(); err != nil {
		return err
	}
	*e.reg(RegDebug) = DebugErrorMask
	*e.reg(RegConblkAd) = busCBAddr
	*e.reg(RegCS) = CSActive
	return nil
}

// ConblkAd returns the bus address of the control block the engine is
// currently fetching from. Zero once the chain terminates.
func (e *Engine) ConblkAd() uint32 {
	return *e.reg(RegConblkAd)
}

// Active reports whether the channel is still executing a chain.
func (e *Engine) Active() bool {
	return *e.reg(RegCS)&CSActive != 0
}

// CheckDebug inspects the error bits and clears them. A set bit means
// the engine faulted mid-chain.
func (e *Engine) CheckDebug() error {
	bits := *e.reg(RegDebug) & DebugErrorMask
	if bits == 0 {
		return nil
	}
	*e.reg(RegDebug) = bits
	return errors.DMAEngineError(bits)
}

// Reset aborts the channel and waits for ACTIVE to clear.
func (e *Engine) Reset() error {
	*e.reg(RegCS) = CSReset
	deadline := time.Now().Add(100 * time.Millisecond)
	for e.Active() {
		if time.Now().After(deadline) {
			return errors.DMAEngineError(0).
				SetContext("reason", "channel did not deactivate after reset")
		}
		time.Sleep(10 * time.Microsecond)
	}
	return nil
}

// Close resets the channel and unmaps the controller.
func (e *Engine) Close() error {
	if e.mem == nil {
		return nil
	}
	resetErr := e.Reset()
	if err := unix.Munmap(e.mem); err != nil {
		return err
	}
	e.mem = nil
	if err := unix.Close(e.fd); err != nil {
		return err
	}
	return resetErr
}
