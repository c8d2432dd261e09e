package vm

import "testing"

func TestUTFPoolIntern(t *testing.T) {
	p := NewUTFPool(0)

	a := p.Intern("java/lang/Object")
	b := p.Intern("java/lang/Object")
	if a != b {
		t.Errorf("interning the same string twice: %d != %d", a, b)
	}
	c := p.Intern("java/lang/String")
	if c == a {
		t.Errorf("distinct strings share id %d", a)
	}
	if got := p.Name(a); got != "java/lang/Object" {
		t.Errorf("Name(%d) = %q, want %q", a, got, "java/lang/Object")
	}
}

func TestUTFPoolReservedEmpty(t *testing.T) {
	p := NewUTFPool(0)
	if id := p.Intern(""); id != UTFNone {
		t.Errorf("Intern(\"\") = %d, want %d", id, UTFNone)
	}
	if p.Len() != 1 {
		t.Errorf("fresh pool Len = %d, want 1", p.Len())
	}
	first := p.Intern("x")
	if first == UTFNone {
		t.Error("first real entry collides with the reserved empty id")
	}
}

func TestUTFPoolLookup(t *testing.T) {
	p := NewUTFPool(0)
	if _, ok := p.Lookup("missing"); ok {
		t.Error("Lookup of absent string reported ok")
	}
	id := p.Intern("present")
	got, ok := p.Lookup("present")
	if !ok || got != id {
		t.Errorf("Lookup = (%d, %v), want (%d, true)", got, ok, id)
	}
	if p.Name(UTFID(9999)) != "" {
		t.Error("Name of out-of-range id is not empty")
	}
}

func TestJavaHash(t *testing.T) {
	// Values computed by java.lang.String.hashCode.
	cases := []struct {
		s    string
		want int32
	}{
		{"", 0},
		{"a", 97},
		{"ab", 3105},
		{"java/lang/Object", 2080463411},
		{"polygenelubricants", -2147483648},
	}
	for _, c := range cases {
		if got := JavaHash(c.s); got != c.want {
			t.Errorf("JavaHash(%q) = %d, want %d", c.s, got, c.want)
		}
	}
}

func TestUTF16RoundTrip(t *testing.T) {
	cases := []string{
		"",
		"plain ascii",
		"воздух", // two-byte UTF-8 sequences
		"数据",     // three-byte sequences
		"𝔘nicode", // supplementary plane, surrogate pair in UTF-16
	}
	for _, s := range cases {
		units := utf8ToUTF16(s)
		if got := utf16ToUTF8(units); got != s {
			t.Errorf("round trip of %q = %q", s, got)
		}
	}
	if units := utf8ToUTF16("𝔘"); len(units) != 2 {
		t.Errorf("supplementary code point encoded to %d units, want 2", len(units))
	}
}
