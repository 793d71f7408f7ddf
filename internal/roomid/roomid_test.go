package roomid

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := New()
		parts := strings.Split(id, "-")
		if len(parts) != 3 {
			t.Fatalf("New() = %q, want three words", id)
		}
		if !Valid(id) {
			t.Fatalf("New() = %q is not valid", id)
		}
	}
}

func TestNewUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := NewUnique(func(id string) bool { return seen[id] })
		if seen[id] {
			t.Fatalf("NewUnique returned taken id %q", id)
		}
		seen[id] = true
	}
}

func TestNewUniqueFallsBackToFourWords(t *testing.T) {
	id := NewUnique(func(id string) bool { return strings.Count(id, "-") < 3 })
	if got := len(strings.Split(id, "-")); got != 4 {
		t.Errorf("NewUnique = %q, want four words", id)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"sleepy-otter-lantern", true},
		{"Room_42", true},
		{"", false},
		{"has space", false},
		{"slash/room", false},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		if got := Valid(tt.id); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
