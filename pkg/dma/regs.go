// BCM2835 DMA register layout
//
// Byte offsets and bit fields for the DMA controller, taken from the
// peripheral datasheet. Channel registers repeat every 0x100 bytes.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package dma

// Peripheral block offsets from the peripheral base.
const (
	DMAOffset   = 0x0000_7000
	TimerOffset = 0x0000_3000
	PWMOffset   = 0x0020_C000
	ClockOffset = 0x0010_1000
)

// Channel register byte offsets, repeating at ChannelStride per channel.
const (
	ChannelStride = 0x100

	RegCS        = 0x00
	RegConblkAd  = 0x04
	RegTI        = 0x08
	RegSourceAd  = 0x0C
	RegDestAd    = 0x10
	RegTxfrLen   = 0x14
	RegStride    = 0x18
	RegNextConbk = 0x1C
	RegDebug     = 0x20

	// DMAEnable is global, one bit per channel.
	DMAEnable = 0xFF0
)

// CS register bits.
const (
	CSReset  = 1 << 31
	CSAbort  = 1 << 30
	CSError  = 1 << 8
	CSInt    = 1 << 2
	CSEnd    = 1 << 1
	CSActive = 1 << 0
)

// DEBUG register error bits. Writing 1 clears.
const (
	DebugReadError           = 1 << 2
	DebugFIFOError           = 1 << 1
	DebugReadLastNotSetError = 1 << 0

	DebugErrorMask = DebugReadError | DebugFIFOError | DebugReadLastNotSetError
)

// Transfer-information bits shared by the TI register and control
// blocks.
const (
	TIDestInc      = 1 << 4
	TIDestDreq     = 1 << 6
	TISrcInc       = 1 << 8
	TISrcDreq      = 1 << 10
	TINoWideBursts = 1 << 26

	// PermapPWM routes the DREQ signal from the PWM peripheral.
	PermapPWM = 5

	// MaxWaits is the largest tick count one control block can idle
	// between transfers.
	MaxWaits = 31
)

// TIPermap places a peripheral number in the PERMAP field.
func TIPermap(p uint32) uint32 {
	return (p & 0x1F) << 16
}

// TIWaits places an inter-transfer wait count in the WAITS field.
func TIWaits(n uint32) uint32 {
	return (n & 0x1F) << 21
}

// ControlBlock is the 32-byte record the DMA engine fetches. NextConbk
// must hold a 32-byte aligned bus address or zero to terminate.
type ControlBlock struct {
	TI        uint32
	SourceAd  uint32
	DestAd    uint32
	TxfrLen   uint32
	Stride    uint32
	NextConbk uint32
	_         [2]uint32
}

// ControlBlockSize is the fetch granularity of the engine.
const ControlBlockSize = 32
