package store

import (
	"fmt"
	"time"
)

// Cursors paginate newest-first listings: conversations by updated_at,
// messages by created_at. The wire format is the RFC3339Nano timestamp of the
// last item on the previous page; the next page is everything strictly older.

// EncodeCursor renders a pagination cursor. The zero time encodes to "",
// meaning "from the newest".
func EncodeCursor(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// DecodeCursor parses a pagination cursor. "" decodes to nil (no lower bound).
func DecodeCursor(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor %q: %w", s, err)
	}
	return &t, nil
}
