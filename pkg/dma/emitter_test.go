package dma

import (
	"testing"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
	"printipi-go-migration/pkg/log"
)

// fakePages builds a Pages over ordinary memory with synthetic
// physical addresses, one distinct base per page.
func fakePages(n int) *Pages {
	p := &Pages{mem: make([]byte, n*pageSize), bus: make([]uint32, n)}
	for i := range p.bus {
		p.bus[i] = uint32(0x1000_0000 + i*0x10000)
	}
	return p
}

func fakeEmitter() *Emitter {
	cbs := fakePages(1)
	em := &Emitter{
		eng:    &Engine{words: make([]uint32, pageSize/4)},
		cbs:    cbs,
		srcs:   fakePages(1),
		n:      cbs.NumCBs(),
		slotOf: make(map[uint32]int),
		logger: log.Default().Component("dma.test"),
	}
	for i := 0; i < em.n; i++ {
		em.slotOf[cbs.BusCBAddr(i)] = i
	}
	return em
}

func TestWriteSegmentFillsBlock(t *testing.T) {
	em := fakeEmitter()
	em.writeSegment(Segment{Value: 0x10, Dest: DestSet, Waits: 24})

	cb := em.cbs.CB(0)
	wantTI := uint32(TINoWideBursts | TIDestDreq | TIPermap(PermapPWM) | TIWaits(24))
	if cb.TI != wantTI {
		t.Errorf("TI = %#x, want %#x", cb.TI, wantTI)
	}
	if cb.SourceAd != em.srcs.BusWordAddr(0) {
		t.Errorf("SourceAd = %#x, want %#x", cb.SourceAd, em.srcs.BusWordAddr(0))
	}
	if cb.DestAd != gpio.SetRegBusAddr() {
		t.Errorf("DestAd = %#x, want GPSET0 bus address", cb.DestAd)
	}
	if cb.TxfrLen != 4 {
		t.Errorf("TxfrLen = %d, want 4", cb.TxfrLen)
	}
	if cb.NextConbk != 0 {
		t.Errorf("tail NextConbk = %#x, want 0", cb.NextConbk)
	}
	if *em.srcs.Word(0) != 0x10 {
		t.Errorf("source word = %#x, want 0x10", *em.srcs.Word(0))
	}
}

func TestWriteSegmentPatchesTail(t *testing.T) {
	em := fakeEmitter()
	em.writeSegment(Segment{Value: 0x10, Dest: DestSet})
	em.writeSegment(Segment{Value: 0x10, Dest: DestClear})

	if got := em.cbs.CB(0).NextConbk; got != em.cbs.BusCBAddr(1) {
		t.Errorf("patched NextConbk = %#x, want %#x", got, em.cbs.BusCBAddr(1))
	}
	if got := em.cbs.CB(1).NextConbk; got != 0 {
		t.Errorf("new tail NextConbk = %#x, want 0", got)
	}
	if got := em.cbs.CB(1).DestAd; got != gpio.ClearRegBusAddr() {
		t.Errorf("DestAd = %#x, want GPCLR0 bus address", got)
	}
}

func TestWriteSegmentWrapsRing(t *testing.T) {
	em := fakeEmitter()
	for i := 0; i <= em.n; i++ {
		em.writeSegment(Segment{Value: uint32(i + 1), Dest: DestSet})
	}
	// Slot 0 was recycled; the previous tail links back to it.
	if got := *em.srcs.Word(0); got != uint32(em.n+1) {
		t.Errorf("recycled word = %d, want %d", got, em.n+1)
	}
	if got := em.cbs.CB(em.n - 1).NextConbk; got != em.cbs.BusCBAddr(0) {
		t.Errorf("wrap NextConbk = %#x, want %#x", got, em.cbs.BusCBAddr(0))
	}
}

func TestWaitSlotUnderrun(t *testing.T) {
	em := fakeEmitter()
	em.produced = uint64(em.n - safetyMargin)
	// Engine is inactive with a zero fetch address: the chain drained
	// before the producer caught up.
	err := em.waitSlot()
	if !errors.Is(err, errors.ErrRealtimeUnderrun) {
		t.Errorf("err = %v, want REALTIME_UNDERRUN", err)
	}
}

func TestWaitSlotAdvancesWithEngine(t *testing.T) {
	em := fakeEmitter()
	em.produced = uint64(em.n - safetyMargin)
	*em.eng.reg(RegCS) = CSActive
	*em.eng.reg(RegConblkAd) = em.cbs.BusCBAddr(5)

	if err := em.waitSlot(); err != nil {
		t.Fatalf("waitSlot: %v", err)
	}
	if em.consumed != 5 {
		t.Errorf("consumed = %d, want 5", em.consumed)
	}
}

func TestEngineEnableAndStart(t *testing.T) {
	eng := &Engine{words: make([]uint32, pageSize/4), channel: 3}
	eng.Enable()
	if eng.words[DMAEnable/4]&(1<<3) == 0 {
		t.Error("channel 3 enable bit not set")
	}
	if err := eng.Start(0x12345680); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := eng.ConblkAd(); got != 0x12345680 {
		t.Errorf("CONBLK_AD = %#x, want 0x12345680", got)
	}
	if !eng.Active() {
		t.Error("channel not active after Start")
	}
	if err := eng.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if eng.Active() {
		t.Error("channel active after Reset")
	}
}

func TestEngineCheckDebug(t *testing.T) {
	eng := &Engine{words: make([]uint32, pageSize/4)}
	if err := eng.CheckDebug(); err != nil {
		t.Fatalf("clean debug: %v", err)
	}
	*eng.reg(RegDebug) = DebugFIFOError
	err := eng.CheckDebug()
	if !errors.Is(err, errors.ErrDMAEngine) {
		t.Errorf("err = %v, want DMA_ENGINE", err)
	}
}

func TestPagesAddressing(t *testing.T) {
	p := fakePages(2)
	if got := p.BusWordAddr(0); got != p.bus[0] {
		t.Errorf("word 0 bus = %#x, want %#x", got, p.bus[0])
	}
	// Word 1024 is the first word of page 2.
	if got := p.BusWordAddr(pageSize / 4); got != p.bus[1] {
		t.Errorf("word across page = %#x, want %#x", got, p.bus[1])
	}
	if got := p.BusCBAddr(1); got != p.bus[0]+ControlBlockSize {
		t.Errorf("CB 1 bus = %#x, want %#x", got, p.bus[0]+ControlBlockSize)
	}
	if p.NumCBs() != 2*pageSize/ControlBlockSize {
		t.Errorf("NumCBs = %d", p.NumCBs())
	}
}
