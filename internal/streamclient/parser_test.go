package streamclient

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func collectFrames(t *testing.T, input string) []rawEvent {
	t.Helper()
	p := newParser(strings.NewReader(input))
	var out []rawEvent
	for {
		ev, err := p.next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, *ev)
	}
}

func TestParserSingleFrame(t *testing.T) {
	frames := collectFrames(t, "event: notification\ndata: {\"a\":1}\n\n")
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].name != "notification" || frames[0].data != `{"a":1}` {
		t.Fatalf("frame = %+v", frames[0])
	}
}

func TestParserJoinsMultipleDataLines(t *testing.T) {
	frames := collectFrames(t, "data: line1\ndata: line2\n\n")
	if len(frames) != 1 || frames[0].data != "line1\nline2" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestParserSkipsComments(t *testing.T) {
	frames := collectFrames(t, ": keepalive\n\n: keepalive\n\nevent: notification\ndata: x\n\n")
	if len(frames) != 1 || frames[0].data != "x" {
		t.Fatalf("comments must not produce frames: %+v", frames)
	}
}

func TestParserIgnoresUnknownFields(t *testing.T) {
	frames := collectFrames(t, "id: 42\nretry: 1000\ndata: x\n\n")
	if len(frames) != 1 || frames[0].data != "x" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestParserEmptyFrameSkipped(t *testing.T) {
	frames := collectFrames(t, "event: notification\n\ndata: x\n\n")
	if len(frames) != 1 || frames[0].data != "x" {
		t.Fatalf("a frame without data must be skipped: %+v", frames)
	}
	// The dangling event name must not leak into the next frame.
	if frames[0].name != "" {
		t.Fatalf("event name leaked across frames: %+v", frames[0])
	}
}

func TestParserValueWithoutSpace(t *testing.T) {
	frames := collectFrames(t, "data:tight\n\n")
	if len(frames) != 1 || frames[0].data != "tight" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestParserEOFWithoutTrailingBlank(t *testing.T) {
	frames := collectFrames(t, "data: never-terminated")
	if len(frames) != 0 {
		t.Fatalf("unterminated frame must not be emitted: %+v", frames)
	}
}
