package motion

import (
	"math"
	"testing"

	"printipi-go-migration/pkg/units"
)

// A 100 mm move at Kossel limits: the accel phase ends at
// v/a = 50000/1200000 s and the midpoint falls at half distance.
func TestProfileTrapezoid(t *testing.T) {
	p, err := NewProfile(100000, 50000, 1200000)
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}

	if p.PeakVelocity() != 50000 {
		t.Errorf("peak = %v, want 50000", p.PeakVelocity())
	}

	// The accel phase covers v^2/2a = 1041.67 um; the whole micrometer
	// 1042 lies 0.33 um into the cruise, reached 0.33/50000 s = 6.7 us
	// after the accel phase ends at 41667 us.
	ta := p.TimeAt(units.Micrometers(math.Round(50000.0 * 50000.0 / (2 * 1200000))))
	if ta < 41673-2 || ta > 41673+2 {
		t.Errorf("time to reach 1042 um = %d us, want ~41673", ta)
	}

	total := p.Duration()
	if mid := p.DistanceAt(total / 2); absI64(int64(mid)-50000) > 1 {
		t.Errorf("s(T/2) = %d, want 50000 +-1", mid)
	}
	if got := p.DistanceAt(total); got != 100000 {
		t.Errorf("s(T) = %d, want 100000", got)
	}
	if got := p.DistanceAt(0); got != 0 {
		t.Errorf("s(0) = %d, want 0", got)
	}
}

// Short moves collapse to a triangle with peak sqrt(a*D) < vmax.
func TestProfileTriangle(t *testing.T) {
	p, err := NewProfile(1000, 50000, 1200000)
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}
	want := math.Sqrt(1200000 * 1000)
	if math.Abs(p.PeakVelocity()-want) > 1e-6 {
		t.Errorf("peak = %v, want %v", p.PeakVelocity(), want)
	}
	// No cruise phase: T = 2*vpeak/a.
	wantT := units.SaturateU64(2 * want / 1200000 * units.MicrosecondsPerSecond)
	if d := p.Duration(); d != wantT {
		t.Errorf("duration = %d, want %d", d, wantT)
	}
}

func TestProfileInverseMonotonic(t *testing.T) {
	p, err := NewProfile(100000, 50000, 1200000)
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}
	var prev units.Microseconds
	for s := units.Micrometers(0); s <= 100000; s += 500 {
		tm := p.TimeAt(s)
		if tm < prev {
			t.Fatalf("TimeAt(%d) = %d < TimeAt(%d) = %d", s, tm, s-500, prev)
		}
		prev = tm
		// Round trip within the profile's resolution.
		back := p.DistanceAt(tm)
		if absI64(int64(back)-int64(s)) > 1 {
			t.Errorf("DistanceAt(TimeAt(%d)) = %d", s, back)
		}
	}
}

func TestProfileZeroDistance(t *testing.T) {
	p, err := NewProfile(0, 50000, 1200000)
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}
	if p.Duration() != 0 {
		t.Errorf("duration = %d, want 0", p.Duration())
	}
	if p.DistanceAt(100) != 0 {
		t.Errorf("DistanceAt = %d, want 0", p.DistanceAt(100))
	}
}

func TestProfileValidation(t *testing.T) {
	tests := []struct {
		name   string
		dist   units.Micrometers
		vel, a float64
	}{
		{"negative distance", -1, 50000, 1200000},
		{"zero velocity", 1000, 0, 1200000},
		{"zero accel", 1000, 50000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProfile(tt.dist, tt.vel, tt.a); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
