package repository

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	cursor := encodeCursor(ts, "7f9c0a1e")

	gotTs, gotID, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gotTs.Equal(ts) {
		t.Fatalf("ts = %v, want %v", gotTs, ts)
	}
	if gotID != "7f9c0a1e" {
		t.Fatalf("id = %q", gotID)
	}
}

func TestCursorNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("MSK", 3*3600)
	ts := time.Date(2026, 3, 14, 12, 0, 0, 0, loc)
	gotTs, _, err := decodeCursor(encodeCursor(ts, "id1"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gotTs.Equal(ts) {
		t.Fatalf("ts = %v, want instant %v", gotTs, ts)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	bad := []string{
		"not base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("no separator")),
		base64.RawURLEncoding.EncodeToString([]byte("2026-03-14T00:00:00Z|")),
		base64.RawURLEncoding.EncodeToString([]byte("yesterday|id1")),
	}
	for _, cursor := range bad {
		if _, _, err := decodeCursor(cursor); !errors.Is(err, ErrBadCursor) {
			t.Fatalf("cursor %q: got %v, want ErrBadCursor", cursor, err)
		}
	}
}
