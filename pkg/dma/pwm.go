// PWM-paced DREQ clock
//
// The DMA chain is paced by the PWM peripheral's DREQ line: the PWM
// FIFO drains one word per period, and each paced control block write
// waits for that signal. Programming the PWM clock divisor against the
// 19.2 MHz oscillator, with a range of 1, sets the tick frequency.
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

// PWM register byte offsets.
const (
	pwmCtl  = 0x00
	pwmSta  = 0x04
	pwmDmac = 0x08
	pwmRng1 = 0x10
	pwmFif1 = 0x18

	pwmCtlPwen1 = 1 << 0
	pwmCtlMode1 = 1 << 1
	pwmCtlRptl1 = 1 << 2
	pwmCtlUsef1 = 1 << 5
	pwmCtlClrf1 = 1 << 6

	pwmDmacEnab = 1 << 31
)

// PWMBusFIF1 is the bus address of the PWM FIFO. Chain padding does
// not write here; padding segments write zero to GPSET0.
const PWMBusFIF1 = 0x7E20_C000 + pwmFif1

// Clock manager registers for the PWM clock, byte offsets from the
// clock block.
const (
	clkCtlPWM = 0xA0
	clkDivPWM = 0xA4

	clkPasswd = 0x5A00_0000
	clkSrcOsc = 1
	clkEnable = 1 << 4
	clkKill   = 1 << 5
	clkBusy   = 1 << 7

	oscFreqHz = 19_200_000
)

// Pacer owns the PWM peripheral and its clock, programmed to emit DREQ
// at a fixed tick frequency.
type Pacer struct {
	fd     int
	pwmMem []byte
	clkMem []byte
	pwm    []uint32
	clk    []uint32
	tickHz uint32
}

// OpenPacer maps the PWM and clock blocks and programs a tickHz DREQ
// rate. Requires root.
func OpenPacer(base uintptr, tickHz uint32) (*Pacer, error) {
	if tickHz == 0 || oscFreqHz/tickHz == 0 {
		return nil, errors.RuntimeInitError("dma pacer", "tick frequency out of range")
	}
	fd, err := unix.Open("/dev/mem", unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrRuntimeInit, "open /dev/mem (are you root?)")
	}
	pwmMem, err := unix.Mmap(fd, int64(base+PWMOffset), pageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrRuntimeInit, "mmap PWM block")
	}
	clkMem, err := unix.Mmap(fd, int64(base+ClockOffset), pageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(pwmMem)
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrRuntimeInit, "mmap clock block")
	}

	p := &Pacer{
		fd:     fd,
		pwmMem: pwmMem,
		clkMem: clkMem,
		pwm:    unsafe.Slice((*uint32)(unsafe.Pointer(&pwmMem[0])), pageSize/4),
		clk:    unsafe.Slice((*uint32)(unsafe.Pointer(&clkMem[0])), pageSize/4),
		tickHz: tickHz,
	}
	p.program()
	return p, nil
}

func (p *Pacer) program() {
	// Stop the PWM and its clock before reprogramming.
	p.pwm[pwmCtl/4] = 0
	p.clk[clkCtlPWM/4] = clkPasswd | clkKill
	for p.clk[clkCtlPWM/4]&clkBusy != 0 {
		time.Sleep(10 * time.Microsecond)
	}

	p.clk[clkDivPWM/4] = clkPasswd | ((oscFreqHz / p.tickHz) << 12)
	p.clk[clkCtlPWM/4] = clkPasswd | clkSrcOsc
	p.clk[clkCtlPWM/4] = clkPasswd | clkSrcOsc | clkEnable
	for p.clk[clkCtlPWM/4]&clkBusy == 0 {
		time.Sleep(10 * time.Microsecond)
	}

	// One FIFO word per tick: range 1 at the divided clock.
	p.pwm[pwmRng1/4] = 1
	p.pwm[pwmCtl/4] = pwmCtlClrf1
	p.pwm[pwmDmac/4] = pwmDmacEnab | (7 << 8) | 3
	p.pwm[pwmCtl/4] = pwmCtlUsef1 | pwmCtlMode1 | pwmCtlRptl1 | pwmCtlPwen1
}

// TickUs returns the tick period in whole microseconds.
func (p *Pacer) TickUs() uint64 {
	return 1_000_000 / uint64(p.tickHz)
}

// Close stops the PWM clock and unmaps the blocks.
func (p *Pacer) Close() error {
	if p.pwmMem == nil {
		return nil
	}
	p.pwm[pwmCtl/4] = 0
	p.clk[clkCtlPWM/4] = clkPasswd | clkKill
	unix.Munmap(p.pwmMem)
	unix.Munmap(p.clkMem)
	p.pwmMem = nil
	return unix.Close(p.fd)
}
