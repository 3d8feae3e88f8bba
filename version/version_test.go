package version

import "testing"

func TestParseAndOrder(t *testing.T) {
	cases := []struct {
		in   string
		want Version
	}{
		{"es-6.8", Version{ES, 6, 8, 0}},
		{"es-7.10.2", Version{ES, 7, 10, 2}},
		{"os-2.11", Version{OS, 2, 11, 0}},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("Parse(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestMatchers(t *testing.T) {
	v68, _ := Parse("es-6.8.0")
	if !v68.IsES68() || !v68.SupportsMultiType() {
		es68 := v68
		t.Fatalf("expected %s to match IsES68/SupportsMultiType", es68)
	}

	v710, _ := Parse("es-7.10.2")
	if !v710.IsES7X() || v710.SupportsMultiType() {
		t.Fatalf("expected %s to match IsES7X only", v710)
	}

	os211, _ := Parse("os-2.11.0")
	if !os211.IsOS2X() {
		t.Fatalf("expected %s to match IsOS2X", os211)
	}
}

func TestOrdering(t *testing.T) {
	a, _ := Parse("es-6.8.0")
	b, _ := Parse("es-7.10.0")
	c, _ := Parse("os-1.3.0")
	d, _ := Parse("os-2.11.0")

	if !a.Less(b) || !b.Less(c) || !c.Less(d) {
		t.Fatalf("expected total order es-6.8 < es-7.10 < os-1.3 < os-2.11")
	}
	if a.Less(a) {
		t.Fatalf("version must not be less than itself")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"bogus", "zz-1.2", "es"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q) expected error", in)
		}
	}
}
