package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIDWithoutPrefixIsUUID(t *testing.T) {
	id := NewID("")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected uuid, got %q: %v", id, err)
	}
}

func TestNewIDWithPrefix(t *testing.T) {
	id := NewID("sus")
	if !strings.HasPrefix(id, "sus_") {
		t.Fatalf("expected sus_ prefix, got %q", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "sus_")); err != nil {
		t.Fatalf("expected uuid suffix, got %q: %v", id, err)
	}
	if NewID("sus") == id {
		t.Fatal("expected unique ids")
	}
}
