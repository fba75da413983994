package xid

import (
	"strings"
	"testing"
)

func TestNewCarriesPrefix(t *testing.T) {
	id := New("ntf")
	if !strings.HasPrefix(id, "ntf-") {
		t.Fatalf("expected ntf- prefix, got %s", id)
	}
	if New("ntf") == id {
		t.Fatalf("expected distinct ids")
	}
}

func TestStableIsDeterministic(t *testing.T) {
	a := Stable("sale", "T1", "2024-03-15T14:30:00Z", "1234.56")
	b := Stable("sale", "T1", "2024-03-15T14:30:00Z", "1234.56")
	c := Stable("sale", "T2", "2024-03-15T14:30:00Z", "1234.56")
	if a != b {
		t.Fatalf("expected same id for same parts, got %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("expected different id for different parts")
	}
}
