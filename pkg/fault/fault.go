// Package fault provides connection-level fault injection for simulating
// network failures at the wire level.
package fault

import (
	"fmt"
)

// Directive selects the wire-level misbehavior written in place of a normal
// HTTP response. The zero value is None.
type Directive string

const (
	// None means no fault: the normal response writer is used.
	None Directive = ""
	// EmptyResponse closes the connection without writing any bytes.
	// The peer observes connection termination with no response at all.
	EmptyResponse Directive = "empty_response"
	// MalformedChunk writes a valid status line and chunked headers, then a
	// chunk that violates the chunked-encoding grammar. The peer's decoder
	// fails while consuming the body, not while parsing headers.
	MalformedChunk Directive = "malformed_chunk"
	// RandomDataThenClose writes unpredictable bytes that do not resemble an
	// HTTP status line, then closes. The peer fails at protocol parsing,
	// before it ever reaches a body.
	RandomDataThenClose Directive = "random_data_then_close"
)

// Valid reports whether d is one of the known directives.
func (d Directive) Valid() bool {
	switch d {
	case None, EmptyResponse, MalformedChunk, RandomDataThenClose:
		return true
	default:
		return false
	}
}

// ParseDirective parses a directive name as it appears in stub definitions
// and config files. The empty string parses to None.
func ParseDirective(s string) (Directive, error) {
	d := Directive(s)
	if !d.Valid() {
		return None, fmt.Errorf("unknown fault directive %q", s)
	}
	return d, nil
}

// String implements fmt.Stringer.
func (d Directive) String() string {
	if d == None {
		return "none"
	}
	return string(d)
}
