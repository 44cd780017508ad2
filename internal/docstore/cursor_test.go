package docstore

import (
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	original := Cursor{
		CreatedAt: time.Date(2026, 7, 15, 12, 0, 0, 123456789, time.UTC),
		RecordID:  "record-42",
	}

	decoded, err := DecodeCursor(original.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Fatalf("created-at mismatch: %v vs %v", decoded.CreatedAt, original.CreatedAt)
	}
	if decoded.RecordID != original.RecordID {
		t.Fatalf("record id mismatch: %s vs %s", decoded.RecordID, original.RecordID)
	}
}

func TestCursorForRecord(t *testing.T) {
	record := Record{
		ID:        "record-7",
		CreatedAt: time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC),
	}
	cursor := CursorForRecord(record)
	if cursor.RecordID != "record-7" || !cursor.CreatedAt.Equal(record.CreatedAt) {
		t.Fatalf("unexpected cursor: %+v", cursor)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, value := range []string{
		"%%%not-base64%%%",
		"aGVsbG8",       // decodes but no separator
		"MTIzNDV8",      // empty record id
		"bm90YW51bXw3", // non-numeric timestamp
	} {
		if _, err := DecodeCursor(value); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("value %q: expected ErrInvalidCursor, got %v", value, err)
		}
	}
}
