package temperature

import (
	"context"
	"sync"
	"testing"
	"time"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
)

// recordPin records every level driven onto it.
type recordPin struct {
	idlePin
	mu     sync.Mutex
	writes []gpio.Level
}

func (p *recordPin) MakeOutput(lev gpio.Level) {
	p.Write(lev)
}

func (p *recordPin) Write(lev gpio.Level) {
	p.mu.Lock()
	p.writes = append(p.writes, lev)
	p.mu.Unlock()
}

func (p *recordPin) last() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writes) == 0 {
		return gpio.Low
	}
	return p.writes[len(p.writes)-1]
}

func (p *recordPin) saw(lev gpio.Level) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.writes {
		if w == lev {
			return true
		}
	}
	return false
}

func testHeater(t *testing.T, cfg HeaterConfig, sampler Sampler) (*Heater, *recordPin) {
	t.Helper()
	prim := &recordPin{}
	pin := gpio.NewPin(prim, gpio.Spec{Name: "heater", Default: gpio.DefaultLow})
	t.Cleanup(pin.Close)
	pwm := NewSlowPWM(pin, time.Second)
	pid, err := NewPID(kosselPID())
	if err != nil {
		t.Fatal(err)
	}
	return NewHeater(cfg, sampler, pwm, pid, NewLowPass(0)), prim
}

func watchdogConfig() HeaterConfig {
	return HeaterConfig{
		Name:           "hotend",
		SampleInterval: 100 * time.Millisecond,
		RunawayWindow:  10 * time.Second,
		RunawayRise:    5,
	}
}

func TestHeaterColdStartFullPower(t *testing.T) {
	h, _ := testHeater(t, watchdogConfig(), nil)
	h.SetTarget(200)
	if err := h.update(0, 25); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := h.Duty(); got != 1.0 {
		t.Errorf("duty = %.3f, want 1", got)
	}
}

func TestHeaterNoTargetNoPower(t *testing.T) {
	h, _ := testHeater(t, watchdogConfig(), nil)
	if err := h.update(0, 25); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := h.Duty(); got != 0 {
		t.Errorf("duty = %.3f, want 0", got)
	}
}

// No rise within the window trips the watchdog.
func TestHeaterRunaway(t *testing.T) {
	h, _ := testHeater(t, watchdogConfig(), nil)
	h.SetTarget(200)

	if err := h.update(0, 25); err != nil {
		t.Fatalf("arming sample: %v", err)
	}
	if err := h.update(5, 25.2); err != nil {
		t.Fatalf("mid-window sample: %v", err)
	}
	err := h.update(10.5, 25.4)
	if !errors.Is(err, errors.ErrHeaterRunaway) {
		t.Errorf("err = %v, want HEATER_RUNAWAY", err)
	}
}

// Observing the configured rise disarms the watchdog for the rest of
// the ramp.
func TestHeaterRunawayDisarmsOnRise(t *testing.T) {
	h, _ := testHeater(t, watchdogConfig(), nil)
	h.SetTarget(200)

	h.update(0, 25)
	if err := h.update(5, 31); err != nil {
		t.Fatalf("rising sample: %v", err)
	}
	if err := h.update(60, 35); err != nil {
		t.Errorf("post-rise sample: %v", err)
	}
}

// Reaching the setpoint also disarms, even if the rise threshold was
// armed near the target.
func TestHeaterRunawayDisarmsAtTarget(t *testing.T) {
	h, _ := testHeater(t, watchdogConfig(), nil)
	h.SetTarget(28)

	h.update(0, 25)
	if err := h.update(5, 28.5); err != nil {
		t.Fatalf("at-target sample: %v", err)
	}
	if err := h.update(60, 28.2); err != nil {
		t.Errorf("post-target sample: %v", err)
	}
}

// A new setpoint re-arms the watchdog.
func TestHeaterRetargetRearms(t *testing.T) {
	h, _ := testHeater(t, watchdogConfig(), nil)
	h.SetTarget(200)
	h.update(0, 25)
	h.update(5, 31)

	h.SetTarget(250)
	h.update(10, 31)
	err := h.update(21, 31.1)
	if !errors.Is(err, errors.ErrHeaterRunaway) {
		t.Errorf("err = %v, want HEATER_RUNAWAY after retarget", err)
	}
}

func TestHeaterForceOff(t *testing.T) {
	h, prim := testHeater(t, watchdogConfig(), nil)
	h.SetTarget(200)
	h.update(0, 25)
	if h.Duty() != 1.0 {
		t.Fatal("heater not on before ForceOff")
	}

	h.ForceOff()
	if h.Duty() != 0 {
		t.Errorf("duty = %.3f after ForceOff, want 0", h.Duty())
	}
	if _, target := h.Temperature(); target != 0 {
		t.Errorf("target = %.1f after ForceOff, want 0", target)
	}
	if prim.last() != gpio.Low {
		t.Error("heater pin not driven low")
	}
}

// faultSampler returns good readings, then a sensor fault.
type faultSampler struct {
	good int
	n    int
}

func (s *faultSampler) Sample(ctx context.Context) (float64, error) {
	s.n++
	if s.n > s.good {
		return 0, errors.ThermistorFaultError("open", 3_000_000)
	}
	return 25, nil
}

func TestHeaterRunStopsOnSensorFault(t *testing.T) {
	cfg := watchdogConfig()
	cfg.SampleInterval = time.Millisecond
	h, prim := testHeater(t, cfg, &faultSampler{good: 2})
	h.SetTarget(200)

	err := h.Run(context.Background())
	if !errors.Is(err, errors.ErrThermistorFault) {
		t.Fatalf("Run = %v, want THERMISTOR_FAULT", err)
	}
	if h.Duty() != 0 {
		t.Errorf("duty = %.3f after fault, want 0", h.Duty())
	}
	if prim.last() != gpio.Low {
		t.Error("heater pin not driven low after fault")
	}
}

func TestHeaterRunStopsOnCancel(t *testing.T) {
	cfg := watchdogConfig()
	cfg.SampleInterval = time.Millisecond
	h, _ := testHeater(t, cfg, &faultSampler{good: 1 << 30})
	h.SetTarget(200)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.Duty() != 0 {
		t.Error("heater left on after cancelled Run")
	}
}

func TestSlowPWMClamp(t *testing.T) {
	prim := &recordPin{}
	pin := gpio.NewPin(prim, gpio.Spec{Name: "heater", Default: gpio.DefaultLow})
	t.Cleanup(pin.Close)
	p := NewSlowPWM(pin, time.Second)

	p.SetDuty(1.5)
	if p.Duty() != 1 {
		t.Errorf("duty = %.2f, want clamp to 1", p.Duty())
	}
	p.SetDuty(-0.5)
	if p.Duty() != 0 {
		t.Errorf("duty = %.2f, want clamp to 0", p.Duty())
	}
}

func TestSlowPWMRunEndsLow(t *testing.T) {
	prim := &recordPin{}
	pin := gpio.NewPin(prim, gpio.Spec{Name: "heater", Default: gpio.DefaultLow})
	t.Cleanup(pin.Close)
	p := NewSlowPWM(pin, 10*time.Millisecond)
	p.SetDuty(1)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	if !prim.saw(gpio.High) {
		t.Error("pin never driven high at full duty")
	}
	if prim.last() != gpio.Low {
		t.Error("pin not left low after Run")
	}
}
