package units

import (
	"math"
	"testing"
)

func TestSteps(t *testing.T) {
	tests := []struct {
		name  string
		pos   Micrometers
		scale StepsPerMeter
		want  int64
	}{
		{"zero", 0, 25060, 0},
		{"one meter", 1_000_000, 25060, 25060},
		{"negative meter", -1_000_000, 25060, -25060},
		{"tenth of a meter", 100_000, 25060, 2506},
		{"extruder scale", 10_000, 80000, 800},
		{"fraction rounds to nearest step", 19_952, 25060, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Steps(tt.pos, tt.scale); got != tt.want {
				t.Errorf("Steps(%d, %d) = %d, want %d", tt.pos, tt.scale, got, tt.want)
			}
		})
	}
}

func TestStepsRoundTrip(t *testing.T) {
	const scale = StepsPerMeter(25060)
	for _, steps := range []int64{0, 1, -1, 100, 4789, -4789, 11710} {
		pos := StepToPosition(steps, scale)
		if got := Steps(pos, scale); got != steps {
			t.Errorf("round trip of %d steps gave %d", steps, got)
		}
	}
}

func TestSqrt64(t *testing.T) {
	tests := []struct {
		n    int64
		want int64
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{3, 1},
		{4, 2},
		{144, 12},
		{36_520_000_000, 191102},
		{math.MaxInt64, 3037000499},
	}
	for _, tt := range tests {
		if got := Sqrt64(tt.n); got != tt.want {
			t.Errorf("Sqrt64(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestSqrt64MatchesFloat(t *testing.T) {
	for n := int64(1); n < 1<<40; n = n*3 + 7 {
		got := Sqrt64(n)
		if got*got > n || (got+1)*(got+1) <= n {
			t.Fatalf("Sqrt64(%d) = %d is not the floor root", n, got)
		}
	}
}

func TestSaturate(t *testing.T) {
	if got := SaturateI64(math.Inf(1)); got != math.MaxInt64 {
		t.Errorf("SaturateI64(+inf) = %d", got)
	}
	if got := SaturateI64(math.Inf(-1)); got != math.MinInt64 {
		t.Errorf("SaturateI64(-inf) = %d", got)
	}
	if got := SaturateI64(math.NaN()); got != 0 {
		t.Errorf("SaturateI64(NaN) = %d", got)
	}
	if got := SaturateU64(-3.0); got != 0 {
		t.Errorf("SaturateU64(-3) = %d", got)
	}
	if got := SaturateU64(2.6); got != 3 {
		t.Errorf("SaturateU64(2.6) = %d", got)
	}
}

func TestFromMillimeters(t *testing.T) {
	if got := FromMillimeters(85.0); got != 85000 {
		t.Errorf("FromMillimeters(85) = %d, want 85000", got)
	}
	if got := Micrometers(191101).Millimeters(); math.Abs(got-191.101) > 1e-9 {
		t.Errorf("Millimeters() = %v", got)
	}
}
