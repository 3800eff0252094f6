// System timer access
//
// The SoC's free-running 1 MHz counter, read as two 32-bit halves.
// Used to timestamp endstop assertions and to measure thermistor
// discharge.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package dma

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/units"
)

const (
	timerCLO = 0x04
	timerCHI = 0x08
)

// Timer reads the 1 MHz system timer.
type Timer struct {
	fd    int
	mem   []byte
	words []uint32
}

// OpenTimer maps the system timer block. Requires root.
func OpenTimer(base uintptr) (*Timer, error) {
	fd, err := unix.Open("/dev/mem", unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrRuntimeInit, "open /dev/mem (are you root?)")
	}
	mem, err := unix.Mmap(fd, int64(base+TimerOffset), pageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrRuntimeInit, "mmap system timer")
	}
	return &Timer{
		fd:    fd,
		mem:   mem,
		words: unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), pageSize/4),
	}, nil
}

// Now returns the current counter value. The high half is re-read
// until it is stable across the low-half read.
func (t *Timer) Now() units.Microseconds {
	for {
		hi := t.words[timerCHI/4]
		lo := t.words[timerCLO/4]
		if t.words[timerCHI/4] == hi {
			return units.Microseconds(uint64(hi)<<32 | uint64(lo))
		}
	}
}

// Close unmaps the timer block.
func (t *Timer) Close() error {
	if t.mem == nil {
		return nil
	}
	if err := unix.Munmap(t.mem); err != nil {
		return err
	}
	t.mem = nil
	return unix.Close(t.fd)
}
