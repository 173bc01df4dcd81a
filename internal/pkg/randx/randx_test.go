package randx

import (
	"strings"
	"testing"
)

func TestClientIDIsValidAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := ClientID()
		if !IsValidClientID(id) {
			t.Fatalf("generated id %q rejected", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIsValidClientID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"g1", true},
		{"abc-DEF_123", true},
		{"has space", false},
		{"slash/inside", false},
		{strings.Repeat("a", ClientIDMaxLength), true},
		{strings.Repeat("a", ClientIDMaxLength+1), false},
	}

	for _, tt := range tests {
		if got := IsValidClientID(tt.id); got != tt.want {
			t.Errorf("IsValidClientID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
