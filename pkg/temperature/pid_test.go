package temperature

import (
	"testing"

	"printipi-go-migration/pkg/errors"
)

func kosselPID() PIDConfig {
	return PIDConfig{
		Kp:        0.018,
		Ki:        0.00025,
		Kd:        0.001,
		MaxPower:  1.0,
		DerivTime: 1.0,
	}
}

func TestPIDValidation(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*PIDConfig)
	}{
		{"zero kp", func(c *PIDConfig) { c.Kp = 0 }},
		{"negative ki", func(c *PIDConfig) { c.Ki = -1 }},
		{"zero power", func(c *PIDConfig) { c.MaxPower = 0 }},
		{"excess power", func(c *PIDConfig) { c.MaxPower = 1.5 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := kosselPID()
			c.mod(&cfg)
			if _, err := NewPID(cfg); !errors.IsConfig(err) {
				t.Errorf("err = %v, want config error", err)
			}
		})
	}
	if _, err := NewPID(kosselPID()); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

// Far below target the output pins at max power.
func TestPIDColdStartSaturates(t *testing.T) {
	p, err := NewPID(kosselPID())
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Update(0, 25, 200); got != 1.0 {
		t.Errorf("cold start duty = %.3f, want 1", got)
	}
	if p.integ != 0 {
		t.Errorf("integral = %.3f while saturated, want 0", p.integ)
	}
}

// Near the setpoint the output is proportional and small.
func TestPIDNearTarget(t *testing.T) {
	p, err := NewPID(kosselPID())
	if err != nil {
		t.Fatal(err)
	}
	p.Update(0, 199, 200)
	got := p.Update(1, 199, 200)
	if got <= 0 || got > 0.05 {
		t.Errorf("duty near target = %.4f, want small positive", got)
	}
}

// The integral saturates at the value that alone commands full power.
func TestPIDIntegralCap(t *testing.T) {
	p, err := NewPID(kosselPID())
	if err != nil {
		t.Fatal(err)
	}
	// A sustained one-degree error at unbounded output would integrate
	// without limit; the cap holds it at MaxPower/Ki.
	now := 0.0
	for i := 0; i < 100000; i++ {
		now += 1.0
		p.Update(now, 199, 200)
	}
	if max := p.cfg.MaxPower / p.cfg.Ki; p.integ > max {
		t.Errorf("integral = %.1f, exceeds cap %.1f", p.integ, max)
	}
}

// Overshoot pulls the output to zero.
func TestPIDOvershootCutsPower(t *testing.T) {
	p, err := NewPID(kosselPID())
	if err != nil {
		t.Fatal(err)
	}
	p.Update(0, 200, 200)
	if got := p.Update(1, 230, 200); got != 0 {
		t.Errorf("duty while 30 over = %.3f, want 0", got)
	}
}

// A fast rise is damped by the derivative term relative to a flat one.
func TestPIDDerivativeDamps(t *testing.T) {
	flat, _ := NewPID(kosselPID())
	flat.Update(0, 190, 200)
	flatOut := flat.Update(2, 190, 200)

	rising, _ := NewPID(kosselPID())
	rising.Update(0, 180, 200)
	risingOut := rising.Update(2, 190, 200)

	if risingOut >= flatOut {
		t.Errorf("rising duty %.4f not below flat duty %.4f", risingOut, flatOut)
	}
}

func TestPIDSettled(t *testing.T) {
	p, err := NewPID(kosselPID())
	if err != nil {
		t.Fatal(err)
	}
	p.Update(0, 199.5, 200)
	p.Update(10, 199.6, 200)
	if !p.Settled(199.6, 200) {
		t.Error("not settled with 0.4 degree error and flat slope")
	}
	if p.Settled(190, 200) {
		t.Error("settled with 10 degree error")
	}
}

func TestPIDReset(t *testing.T) {
	p, err := NewPID(kosselPID())
	if err != nil {
		t.Fatal(err)
	}
	p.Update(0, 199, 200)
	p.Update(100, 199, 200)
	p.Reset()
	if p.integ != 0 || p.primed {
		t.Errorf("state after Reset: integ=%.2f primed=%v", p.integ, p.primed)
	}
}
