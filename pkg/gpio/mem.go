// Memory-mapped GPIO device
//
// Maps the GPIO register block from /dev/mem and exposes primitive pins
// backed by direct register writes. Requires root.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gpio

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"printipi-go-migration/pkg/errors"
)

const pageSize = 4096

// Device is the memory-mapped GPIO register block.
type Device struct {
	fd    int
	mem   []byte
	words []uint32
}

// OpenDevice maps the GPIO block at base+GPIOOffset from /dev/mem.
func OpenDevice(base uintptr) (*Device, error) {
	fd, err := unix.Open("/dev/mem", unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrRuntimeInit, "open /dev/mem (are you root?)")
	}
	mem, err := unix.Mmap(fd, int64(base+GPIOOffset), pageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrRuntimeInit, "mmap GPIO registers")
	}
	return &Device{
		fd:    fd,
		mem:   mem,
		words: unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), pageSize/4),
	}, nil
}

// Close unmaps the register block.
func (d *Device) Close() error {
	if d.mem != nil {
		if err := unix.Munmap(d.mem); err != nil {
			return err
		}
		d.mem = nil
	}
	return unix.Close(d.fd)
}

func (d *Device) reg(byteOffset int) *uint32 {
	return &d.words[byteOffset/4]
}

// setFunction programs the 3-bit function field for a pin.
func (d *Device) setFunction(pin int, fn uint32) {
	reg := d.reg(GPFSEL0 + (pin/10)*4)
	shift := uint(pin%10) * 3
	cur := *reg
	val := (cur &^ (0x7 << shift)) | (fn << shift)
	*reg = val
	*reg = val
}

// Pin returns a primitive pin backed by this register block.
func (d *Device) Pin(num int) PrimitivePin {
	return &memPin{dev: d, num: num}
}

type memPin struct {
	dev *Device
	num int
}

func (p *memPin) MakeOutput(lev Level) {
	p.Write(lev)
	p.dev.setFunction(p.num, FselOutput)
	p.Write(lev)
}

func (p *memPin) MakeInput() {
	p.dev.setFunction(p.num, FselInput)
}

func (p *memPin) Read() Level {
	return (*p.dev.reg(GPLEV0)>>uint(p.num))&1 == 1
}

func (p *memPin) Write(lev Level) {
	if lev == High {
		*p.dev.reg(GPSET0) = 1 << uint(p.num)
	} else {
		*p.dev.reg(GPCLR0) = 1 << uint(p.num)
	}
}

// SetPull runs the GPPUD/GPPUDCLK handshake from the datasheet. The
// 150-cycle setup waits are padded generously with sleeps.
func (p *memPin) SetPull(pull Pull) {
	var ctl uint32
	switch pull {
	case PullDown:
		ctl = 1
	case PullUp:
		ctl = 2
	}
	*p.dev.reg(GPPUD) = ctl
	time.Sleep(10 * time.Microsecond)
	*p.dev.reg(GPPUDCLK0) = 1 << uint(p.num)
	time.Sleep(10 * time.Microsecond)
	*p.dev.reg(GPPUD) = 0
	*p.dev.reg(GPPUDCLK0) = 0
}

// Mask returns the GPSET0/GPCLR0 bit for a pin number.
func Mask(pin int) uint32 {
	return 1 << uint(pin)
}
