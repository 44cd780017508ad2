package docstore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor indicates an opaque cursor could not be decoded.
var ErrInvalidCursor = errors.New("docstore: invalid cursor")

// Cursor marks a position in the createdAt-descending record order. It is
// opaque to callers; only the store interprets it.
type Cursor struct {
	CreatedAt time.Time
	RecordID  string
}

// CursorForRecord returns the cursor positioned at the given record.
func CursorForRecord(record Record) Cursor {
	return Cursor{CreatedAt: record.CreatedAt, RecordID: record.ID}
}

// Encode renders the cursor as an opaque URL-safe string.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%d|%s", c.CreatedAt.UTC().UnixNano(), c.RecordID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor produced by Encode.
func DecodeCursor(value string) (Cursor, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, fmt.Errorf("%w: malformed payload", ErrInvalidCursor)
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return Cursor{CreatedAt: time.Unix(0, nanos).UTC(), RecordID: parts[1]}, nil
}
