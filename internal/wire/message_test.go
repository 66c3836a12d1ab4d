package wire

import (
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := &Message{
		Type:      TypeHSElection,
		ID:        "10.0.0.1:9000",
		Phase:     2,
		Direction: Right,
		Hop:       4,
		Group:     "book-club",
		Options:   []string{"a", "b", "c"},
	}

	b, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Type != original.Type || decoded.ID != original.ID || decoded.Phase != original.Phase {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, original)
	}
	if decoded.Direction != original.Direction || decoded.Hop != original.Hop {
		t.Fatalf("round-trip direction/hop mismatch: got %+v", decoded)
	}
	if len(decoded.Options) != 3 || decoded.Options[1] != "b" {
		t.Fatalf("round-trip options mismatch: got %+v", decoded.Options)
	}
}

func TestEncodeRejectsOversizedMessage(t *testing.T) {
	huge := make([]string, 0, 2000)
	for i := 0; i < 2000; i++ {
		huge = append(huge, "option-padding-to-exceed-buf-0123456789")
	}
	m := &Message{Type: TypeStartVote, Options: huge}

	_, err := Encode(m)
	if err == nil {
		t.Fatalf("expected Encode to reject a message larger than BUF")
	}
	if !strings.Contains(err.Error(), "exceeds BUF") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatalf("expected Decode to reject malformed JSON")
	}
}

func TestDecodeUnknownTypePassesThrough(t *testing.T) {
	// Decode never validates Type; dispatch is responsible for dropping
	// unrecognized types (see internal/node/handlers.go dispatch).
	m, err := Decode([]byte(`{"type":"SOMETHING_NEW"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Type != Type("SOMETHING_NEW") {
		t.Fatalf("unexpected type: %s", m.Type)
	}
}
