package pagination

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cursor := Cursor{
		CreatedAt: time.Date(2026, 4, 5, 14, 30, 0, 123456789, time.UTC),
		DocID:     "ord_01HZX",
	}

	token := Encode(cursor)
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	decoded, err := Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) || decoded.DocID != cursor.DocID {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestEncodeZeroCursorIsEmpty(t *testing.T) {
	if token := Encode(Cursor{}); token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
}

func TestDecodeEmptyTokenIsZeroCursor(t *testing.T) {
	cursor, err := Decode("   ")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !cursor.CreatedAt.IsZero() || cursor.DocID != "" {
		t.Fatalf("expected zero cursor, got %+v", cursor)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, token := range []string{"!!!", "bm90LWEtY3Vyc29y", "MjAyNi0wNC0wNVQxNDozMDowMFo"} {
		if _, err := Decode(token); err == nil {
			t.Fatalf("expected error for token %q", token)
		}
	}
}
