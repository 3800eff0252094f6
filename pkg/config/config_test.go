package config

import (
	"strings"
	"testing"

	"printipi-go-migration/pkg/errors"
)

func TestLoadStringSections(t *testing.T) {
	c, err := LoadString(`
# machine profile
[delta]
tower_radius: 111.0
rod_length = 221.0  ; trailing comment

[motion]
max_move_rate: 50
`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	names := c.SectionNames()
	want := []string{"delta", "motion"}
	if len(names) != len(want) {
		t.Fatalf("sections = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("section[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	s, err := c.Section("delta")
	if err != nil {
		t.Fatalf("Section(delta): %v", err)
	}
	if v, _ := s.Get("tower_radius"); v != "111.0" {
		t.Errorf("tower_radius = %q, want 111.0", v)
	}
	if v, _ := s.Get("rod_length"); v != "221.0" {
		t.Errorf("rod_length = %q, want 221.0 (comment not stripped?)", v)
	}
}

func TestLoadStringDuplicateSectionsMerge(t *testing.T) {
	c, err := LoadString(`
[motion]
max_move_rate: 50
[motion]
home_rate: 10
max_move_rate: 60
`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if got := len(c.SectionNames()); got != 1 {
		t.Fatalf("section count = %d, want merged 1", got)
	}
	s, _ := c.Section("motion")
	if v, _ := s.GetFloat("max_move_rate"); v != 60 {
		t.Errorf("max_move_rate = %v, want later value 60", v)
	}
	if v, _ := s.GetFloat("home_rate"); v != 10 {
		t.Errorf("home_rate = %v, want 10", v)
	}
}

func TestLoadStringEmptyHeader(t *testing.T) {
	_, err := LoadString("[]\nkey: value\n")
	if !errors.Is(err, errors.ErrConfigSection) {
		t.Errorf("err = %v, want CONFIG_SECTION", err)
	}
}

func TestLoadStringIgnoresOrphanOptions(t *testing.T) {
	c, err := LoadString("stray: value\n[delta]\ntower_radius: 111\n")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if got := len(c.SectionNames()); got != 1 {
		t.Errorf("section count = %d, want 1", got)
	}
}

func TestSectionMissing(t *testing.T) {
	c, _ := LoadString("[delta]\ntower_radius: 111\n")
	_, err := c.Section("motion")
	if !errors.Is(err, errors.ErrConfigSection) {
		t.Errorf("err = %v, want CONFIG_SECTION", err)
	}
	if c.SectionOptional("motion") != nil {
		t.Error("SectionOptional returned a section for a missing name")
	}
	if !c.HasSection("delta") || c.HasSection("motion") {
		t.Error("HasSection mismatch")
	}
}

func TestOptionKeysCaseInsensitive(t *testing.T) {
	c, _ := LoadString("[delta]\nTower_Radius: 111\n")
	s, _ := c.Section("delta")
	v, err := s.Get("tower_radius")
	if err != nil || v != "111" {
		t.Errorf("Get(tower_radius) = %q, %v", v, err)
	}
}

func TestCheckUnusedSections(t *testing.T) {
	c, _ := LoadString("[delta]\ntower_radius: 111\n[typo]\nx: 1\n")
	s, _ := c.Section("delta")
	s.Get("tower_radius")

	err := c.CheckUnused()
	if !errors.Is(err, errors.ErrConfigValidation) {
		t.Fatalf("err = %v, want CONFIG_VALIDATION", err)
	}
	if !strings.Contains(err.Error(), "typo") {
		t.Errorf("error %q does not name the unused section", err)
	}
}

func TestCheckUnusedOptions(t *testing.T) {
	c, _ := LoadString("[delta]\ntower_radius: 111\nmisspelt: 5\n")
	s, _ := c.Section("delta")
	s.Get("tower_radius")

	err := c.CheckUnused()
	if !errors.Is(err, errors.ErrConfigValidation) {
		t.Fatalf("err = %v, want CONFIG_VALIDATION", err)
	}
	if !strings.Contains(err.Error(), "misspelt") {
		t.Errorf("error %q does not name the unused option", err)
	}
}

func TestCheckUnusedClean(t *testing.T) {
	c, _ := LoadString("[delta]\ntower_radius: 111\n")
	s, _ := c.Section("delta")
	s.Get("tower_radius")
	if err := c.CheckUnused(); err != nil {
		t.Errorf("CheckUnused: %v", err)
	}
}

// Fallback reads count as access so defaults never trip the unused
// check.
func TestFallbackMarksAccessed(t *testing.T) {
	c, _ := LoadString("[motion]\nmax_move_rate: 50\n")
	s, _ := c.Section("motion")
	s.GetFloat("max_move_rate")
	s.GetFloat("home_rate", 10)
	if err := c.CheckUnused(); err != nil {
		t.Errorf("CheckUnused: %v", err)
	}
}

func TestSectionGetters(t *testing.T) {
	c, _ := LoadString(`
[test]
int: 42
float: 2.5
bool_on: yes
bool_off: 0
mm: 111.5
floats: 1.0, 2.5, 3
ints: 1, -2, 3
bad_int: x
`)
	s, _ := c.Section("test")

	if v, err := s.GetInt("int"); err != nil || v != 42 {
		t.Errorf("GetInt = %d, %v", v, err)
	}
	if v, err := s.GetFloat("float"); err != nil || v != 2.5 {
		t.Errorf("GetFloat = %v, %v", v, err)
	}
	if v, err := s.GetBool("bool_on"); err != nil || !v {
		t.Errorf("GetBool(on) = %v, %v", v, err)
	}
	if v, err := s.GetBool("bool_off"); err != nil || v {
		t.Errorf("GetBool(off) = %v, %v", v, err)
	}
	if v, err := s.GetMillimeters("mm"); err != nil || v != 111_500 {
		t.Errorf("GetMillimeters = %d, %v, want 111500", v, err)
	}
	if v, err := s.GetFloatList("floats"); err != nil || len(v) != 3 || v[1] != 2.5 {
		t.Errorf("GetFloatList = %v, %v", v, err)
	}
	if v, err := s.GetIntList("ints"); err != nil || len(v) != 3 || v[1] != -2 {
		t.Errorf("GetIntList = %v, %v", v, err)
	}

	if _, err := s.GetInt("bad_int"); !errors.Is(err, errors.ErrConfigValidation) {
		t.Errorf("GetInt(bad_int) err = %v, want CONFIG_VALIDATION", err)
	}
	if _, err := s.GetInt("missing"); !errors.Is(err, errors.ErrConfigOption) {
		t.Errorf("GetInt(missing) err = %v, want CONFIG_OPTION", err)
	}
	if v, err := s.GetInt("missing", 7); err != nil || v != 7 {
		t.Errorf("GetInt fallback = %d, %v, want 7", v, err)
	}
}
