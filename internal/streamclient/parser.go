package streamclient

import (
	"bufio"
	"io"
	"strings"
)

// rawEvent is one parsed SSE frame before JSON decoding.
type rawEvent struct {
	name string
	data string
}

// parser reads SSE frames off a stream. Comment lines and fields other
// than "event" and "data" are skipped; multiple data lines join with \n.
type parser struct {
	scanner *bufio.Scanner

	event string
	data  []string
}

func newParser(r io.Reader) *parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &parser{scanner: sc}
}

// next blocks until a complete frame arrives or the stream ends.
func (p *parser) next() (*rawEvent, error) {
	for p.scanner.Scan() {
		line := p.scanner.Text()
		if line == "" {
			// Blank line terminates the frame.
			if len(p.data) == 0 {
				p.event = ""
				continue
			}
			ev := &rawEvent{name: p.event, data: strings.Join(p.data, "\n")}
			p.event = ""
			p.data = nil
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value := line, ""
		if idx := strings.Index(line, ":"); idx >= 0 {
			field = line[:idx]
			value = strings.TrimPrefix(line[idx+1:], " ")
		}
		switch field {
		case "event":
			p.event = value
		case "data":
			p.data = append(p.data, value)
		}
	}
	if err := p.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
