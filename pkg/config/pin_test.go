package config

import (
	"testing"

	"printipi-go-migration/pkg/errors"
	"printipi-go-migration/pkg/gpio"
)

func TestParsePin(t *testing.T) {
	all := PinOptions{CanInvert: true, CanPull: true}
	cases := []struct {
		name string
		desc string
		opts PinOptions
		want PinDesc
		ok   bool
	}{
		{"bare", "25", PinOptions{}, PinDesc{Number: 25}, true},
		{"gpio prefix", "gpio25", PinOptions{}, PinDesc{Number: 25}, true},
		{"invert", "!17", all, PinDesc{Number: 17, Invert: true}, true},
		{"pull up", "^24", all, PinDesc{Number: 24, Pull: gpio.PullUp}, true},
		{"pull down", "~24", all, PinDesc{Number: 24, Pull: gpio.PullDown}, true},
		{"combined", "^!17", all, PinDesc{Number: 17, Invert: true, Pull: gpio.PullUp}, true},
		{"spaced", " ! 17 ", all, PinDesc{Number: 17, Invert: true}, true},
		{"zero", "0", PinOptions{}, PinDesc{Number: 0}, true},
		{"invert forbidden", "!17", PinOptions{CanPull: true}, PinDesc{}, false},
		{"pull forbidden", "^24", PinOptions{CanInvert: true}, PinDesc{}, false},
		{"out of range", "54", all, PinDesc{}, false},
		{"negative", "-1", all, PinDesc{}, false},
		{"garbage", "hot", all, PinDesc{}, false},
		{"empty", "", all, PinDesc{}, false},
		{"prefix only", "!", all, PinDesc{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePin(tc.desc, tc.opts)
			if tc.ok {
				if err != nil {
					t.Fatalf("ParsePin(%q): %v", tc.desc, err)
				}
				if got != tc.want {
					t.Errorf("ParsePin(%q) = %+v, want %+v", tc.desc, got, tc.want)
				}
				return
			}
			if !errors.Is(err, errors.ErrConfigValidation) {
				t.Errorf("ParsePin(%q) err = %v, want CONFIG_VALIDATION", tc.desc, err)
			}
		})
	}
}

func TestPinDescSpec(t *testing.T) {
	p := PinDesc{Number: 24, Invert: true, Pull: gpio.PullDown}
	spec := p.Spec("endstop a", gpio.DefaultHighZ)

	if spec.Name != "endstop a" {
		t.Errorf("Name = %q", spec.Name)
	}
	if !spec.InvertReads || !spec.InvertWrites {
		t.Error("inversion not applied to both directions")
	}
	if spec.Default != gpio.DefaultHighZ {
		t.Errorf("Default = %v, want HighZ", spec.Default)
	}
	if spec.Pull != gpio.PullDown {
		t.Errorf("Pull = %v, want PullDown", spec.Pull)
	}
}

func TestSectionGetPin(t *testing.T) {
	c, _ := LoadString("[endstops]\na_pin: ^!24\nbad: !8\n")
	s, _ := c.Section("endstops")

	p, err := s.GetPin("a_pin", PinOptions{CanInvert: true, CanPull: true})
	if err != nil {
		t.Fatalf("GetPin: %v", err)
	}
	if p.Number != 24 || !p.Invert || p.Pull != gpio.PullUp {
		t.Errorf("pin = %+v", p)
	}

	if _, err := s.GetPin("bad", PinOptions{}); !errors.Is(err, errors.ErrConfigValidation) {
		t.Errorf("forbidden prefix err = %v, want CONFIG_VALIDATION", err)
	}

	fb := PinDesc{Number: 7}
	p, err = s.GetPin("missing", PinOptions{}, fb)
	if err != nil || p != fb {
		t.Errorf("fallback pin = %+v, %v", p, err)
	}
	if _, err := s.GetPin("missing2", PinOptions{}); !errors.Is(err, errors.ErrConfigOption) {
		t.Errorf("missing pin err = %v, want CONFIG_OPTION", err)
	}
}
