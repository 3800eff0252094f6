// DMA-visible page allocation
//
// The DMA engine addresses RAM by physical address while the process
// sees virtual addresses. Pages handed to the engine are faulted in,
// pinned with mlock, and resolved to physical frames through the
// kernel's pagemap pseudofile. Pinned pages are never released while
// the engine may still fetch from them.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package dma

import (
	"encoding/binary"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"printipi-go-migration/pkg/errors"
)

const pageSize = 4096

// pagemap entry: bits 0..54 hold the physical frame number, bit 63 is
// the present flag.
const (
	pagemapFrameMask = (1 << 55) - 1
	pagemapPresent   = 1 << 63
)

// Pages is a run of locked pages with a known physical address per
// page. The CPU works through mem; the engine through BusAddr values.
type Pages struct {
	mem []byte
	bus []uint32 // physical address of each page
}

// AllocPages allocates, faults in, and pins n pages, then resolves
// their physical addresses.
func AllocPages(n int) (*Pages, error) {
	mem, err := unix.Mmap(-1, 0, n*pageSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.PhysMemError("mmap", err)
	}
	// Touch each page so a physical frame is assigned before mlock.
	for i := 0; i < n; i++ {
		mem[i*pageSize] = 1
		mem[i*pageSize] = 0
	}
	if err := unix.Mlock(mem); err != nil {
		unix.Munmap(mem)
		return nil, errors.PhysMemError("mlock", err)
	}

	pm, err := os.Open("/proc/self/pagemap")
	if err != nil {
		unix.Munlock(mem)
		unix.Munmap(mem)
		return nil, errors.PhysMemError("open pagemap", err)
	}
	defer pm.Close()

	p := &Pages{mem: mem, bus: make([]uint32, n)}
	for i := 0; i < n; i++ {
		virt := uintptr(unsafe.Pointer(&mem[i*pageSize]))
		phys, err := virtToPhys(pm, virt)
		if err != nil {
			unix.Munlock(mem)
			unix.Munmap(mem)
			return nil, err
		}
		p.bus[i] = phys
	}
	return p, nil
}

// virtToPhys resolves one virtual address to its physical address via
// the pagemap entry at (virt / page_size) * 8.
func virtToPhys(pm *os.File, virt uintptr) (uint32, error) {
	var buf [8]byte
	off := int64(virt/pageSize) * 8
	if _, err := pm.ReadAt(buf[:], off); err != nil {
		return 0, errors.PhysMemError("read pagemap", err)
	}
	entry := binary.LittleEndian.Uint64(buf[:])
	if entry&pagemapPresent == 0 {
		return 0, errors.PhysMemError("resolve frame",
			errors.RuntimeError("page not present after mlock"))
	}
	frame := entry & pagemapFrameMask
	return uint32(frame * pageSize), nil
}

// NumWords returns the capacity in 32-bit words.
func (p *Pages) NumWords() int {
	return len(p.mem) / 4
}

// Word returns the virtual alias of word i.
func (p *Pages) Word(i int) *uint32 {
	return (*uint32)(unsafe.Pointer(&p.mem[i*4]))
}

// BusWordAddr returns the physical address of word i.
func (p *Pages) BusWordAddr(i int) uint32 {
	byteOff := i * 4
	return p.bus[byteOff/pageSize] + uint32(byteOff%pageSize)
}

// NumCBs returns the capacity in control blocks.
func (p *Pages) NumCBs() int {
	return len(p.mem) / ControlBlockSize
}

// CB returns the virtual alias of control block i. Page alignment of
// the backing memory guarantees 32-byte alignment of every slot.
func (p *Pages) CB(i int) *ControlBlock {
	return (*ControlBlock)(unsafe.Pointer(&p.mem[i*ControlBlockSize]))
}

// BusCBAddr returns the physical address of control block i.
func (p *Pages) BusCBAddr(i int) uint32 {
	byteOff := i * ControlBlockSize
	return p.bus[byteOff/pageSize] + uint32(byteOff%pageSize)
}

// Close unpins and unmaps the pages. Only call after the engine has
// been halted.
func (p *Pages) Close() error {
	if p.mem == nil {
		return nil
	}
	if err := unix.Munlock(p.mem); err != nil {
		return err
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}
