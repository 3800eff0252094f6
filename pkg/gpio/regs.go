// BCM2835 GPIO register layout
//
// Offsets are in bytes from the GPIO peripheral base. See the BCM2835
// ARM Peripherals datasheet, p89.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gpio

const (
	// PeripheralBase is the physical address of the BCM2835 peripheral
	// window as seen by the ARM.
	PeripheralBase = 0x2000_0000

	// PeripheralBusBase is the same window as seen by peripherals on
	// the bus (DMA uses these addresses).
	PeripheralBusBase = 0x7E00_0000

	// GPIOOffset is the GPIO block offset from either base.
	GPIOOffset = 0x0020_0000
)

// GPIO register byte offsets from the GPIO block base.
const (
	GPFSEL0 = 0x00 // function select, 3 bits per pin, pins 0-9
	GPFSEL1 = 0x04
	GPFSEL2 = 0x08
	GPFSEL3 = 0x0C
	GPFSEL4 = 0x10
	GPFSEL5 = 0x14

	GPSET0 = 0x1C // write 1 to drive pin high, pins 0-31
	GPSET1 = 0x20

	GPCLR0 = 0x28 // write 1 to drive pin low, pins 0-31
	GPCLR1 = 0x2C

	GPLEV0 = 0x34 // pin level, pins 0-31

	GPPUD     = 0x94 // pull-up/down control
	GPPUDCLK0 = 0x98 // pull-up/down clock, pins 0-31
)

// Function select field values.
const (
	FselInput  = 0b000
	FselOutput = 0b001
)

// SetRegBusAddr returns the bus-physical address of GPSET0, the
// destination for DMA "pulse high" writes.
func SetRegBusAddr() uint32 {
	return PeripheralBusBase + GPIOOffset + GPSET0
}

// ClearRegBusAddr returns the bus-physical address of GPCLR0, the
// destination for DMA "pulse low" writes.
func ClearRegBusAddr() uint32 {
	return PeripheralBusBase + GPIOOffset + GPCLR0
}
