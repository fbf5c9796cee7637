// Package sse implements the client side of a Server-Sent Events stream:
// a record decoder and a long-lived streaming GET connection.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// DefaultEventName is the event type of records that carry no event field,
// per the SSE grammar. MCP servers deliver JSON-RPC on this event type.
const DefaultEventName = "message"

// Event is one decoded SSE record. Data holds the data lines joined with
// a newline.
type Event struct {
	Name string
	Data []byte
}

// Decoder incrementally parses an SSE byte stream into events.
// It understands event:, data:, and comment lines; id: and retry: fields are
// ignored. A blank line dispatches the accumulated record.
type Decoder struct {
	r   *bufio.Reader
	eof bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event or io.EOF once the stream is exhausted.
// A record still pending when the stream ends is dispatched before EOF.
func (d *Decoder) Next() (Event, error) {
	if d.eof {
		return Event{}, io.EOF
	}

	name := DefaultEventName
	var data []string

	for {
		raw, err := d.r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return Event{}, err
			}
			d.eof = true
			line := strings.TrimRight(raw, "\r\n")
			d.consumeField(line, &name, &data)
			if len(data) > 0 {
				return Event{Name: name, Data: []byte(strings.Join(data, "\n"))}, nil
			}
			return Event{}, io.EOF
		}

		line := strings.TrimRight(raw, "\r\n")
		if line == "" {
			if len(data) > 0 {
				return Event{Name: name, Data: []byte(strings.Join(data, "\n"))}, nil
			}
			// Record without data is dropped; the name does not carry over.
			name = DefaultEventName
			continue
		}
		d.consumeField(line, &name, &data)
	}
}

func (d *Decoder) consumeField(line string, name *string, data *[]string) {
	switch {
	case line == "":
	case strings.HasPrefix(line, ":"):
		// comment / keepalive
	case strings.HasPrefix(line, "event:"):
		v := strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		if v == "" {
			v = DefaultEventName
		}
		*name = v
	case strings.HasPrefix(line, "data:"):
		*data = append(*data, strings.TrimLeft(strings.TrimPrefix(line, "data:"), " \t"))
	default:
		// id:, retry:, unknown fields
	}
}
