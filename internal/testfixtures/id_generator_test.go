package testfixtures

import "testing"

func TestIDGeneratorIssuesSlotIDs(t *testing.T) {
	gen := NewIDGenerator("")
	if last := gen.Last(); last != "" {
		t.Fatalf("expected no id before the first issue, got %q", last)
	}

	first := gen.Next()
	second := gen.NextFunc()()
	if first != "slot-1" || second != "slot-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
	if last := gen.Last(); last != second {
		t.Fatalf("expected last issued %q, got %q", second, last)
	}
}

func TestIDGeneratorReset(t *testing.T) {
	gen := NewIDGenerator("config")
	gen.Next()
	gen.Reset()
	if next := gen.Next(); next != "config-1" {
		t.Fatalf("expected config-1 after reset, got %q", next)
	}

	var missing *IDGenerator
	if id := missing.NextFunc()(); id != "" {
		t.Fatalf("expected nil generator to yield empty ids, got %q", id)
	}
}
