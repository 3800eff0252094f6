package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := OutOfBoundsError(90000, 0, 10)
	if !strings.Contains(err.Error(), "OUT_OF_BOUNDS") {
		t.Errorf("missing code in %q", err.Error())
	}
	if !strings.Contains(err.Error(), "(90000, 0, 10)") {
		t.Errorf("missing point in %q", err.Error())
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("mmap: permission denied")
	err := PhysMemError("mmap", cause)
	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause not found by errors.Is")
	}
	if err.Code != ErrPhysMem {
		t.Errorf("Code = %s, want %s", err.Code, ErrPhysMem)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"underrun", RealtimeUnderrunError(1234), true},
		{"dma fault", DMAEngineError(0x06), true},
		{"thermistor", ThermistorFaultError("open", 900000), true},
		{"runaway", HeaterRunawayError("hotend", 0.5, 5.0), true},
		{"unexpected endstop", UnexpectedEndstopError("tower_a"), true},
		{"out of bounds", OutOfBoundsError(1, 2, 3), false},
		{"config", ConfigOptionError("printer", "delta_radius"), false},
		{"plain error", stderrors.New("nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestRecoverPanic(t *testing.T) {
	var got *HostError
	func() {
		defer func() { got = RecoverPanic(recover()) }()
		panic("chain corrupted")
	}()
	if got == nil || !strings.Contains(got.Message, "chain corrupted") {
		t.Errorf("RecoverPanic = %v", got)
	}
}
