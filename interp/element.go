// Package interp replays Bitcoin Script's stack-machine semantics over a
// decoded program, producing the per-position snapshots, reachability bits
// and cryptographic events the proving circuit constrains. The host
// simulation here and the in-circuit transition system in this package are
// two renderings of the same machine; the host side additionally refuses
// scripts whose boolean encodings the arithmetic rendering cannot represent
// faithfully.
package interp

import "bytes"

// Element is one stack entry: an immutable byte string. The zero value is
// the empty element.
type Element struct {
	data []byte
}

// NewElement copies b into a stack element.
func NewElement(b []byte) Element {
	if len(b) == 0 {
		return Element{}
	}
	return Element{data: append([]byte(nil), b...)}
}

// Bytes returns the element's bytes. Callers must not mutate the result.
func (e Element) Bytes() []byte { return e.data }

// Len returns the element's byte length.
func (e Element) Len() int { return len(e.data) }

// IsEmpty reports whether the element is the empty byte string.
func (e Element) IsEmpty() bool { return len(e.data) == 0 }

// Equal reports byte equality.
func (e Element) Equal(o Element) bool { return bytes.Equal(e.data, o.data) }

// ConsensusBool applies Bitcoin's cast-to-bool rule: false for the empty
// string, any all-zero string, and any string that is zero except for a
// sign bit (0x80) in the final byte.
func (e Element) ConsensusBool() bool {
	for i, v := range e.data {
		if v != 0 {
			if i == len(e.data)-1 && v == 0x80 {
				return false
			}
			return true
		}
	}
	return false
}

// ArithmeticBool is the truthiness rule the circuit evaluates over the
// element's folded encoding: non-empty, at least one nonzero byte, and not
// the single byte 0x80.
func (e Element) ArithmeticBool() bool {
	if len(e.data) == 0 {
		return false
	}
	if len(e.data) == 1 && e.data[0] == 0x80 {
		return false
	}
	for _, v := range e.data {
		if v != 0 {
			return true
		}
	}
	return false
}

// BoolCanonical reports whether both truthiness renderings agree for this
// element. Scripts that consume a non-canonical boolean cannot be proven.
func (e Element) BoolCanonical() bool {
	return e.ConsensusBool() == e.ArithmeticBool()
}

// IsMinimalIf reports whether the element is a canonical branch condition:
// the empty string or the single byte 0x01.
func (e Element) IsMinimalIf() bool {
	return len(e.data) == 0 || (len(e.data) == 1 && e.data[0] == 0x01)
}

// SmallInt returns the integer a minimally-encoded small-integer element
// represents: 0 for the empty element, 1..16 for the matching single byte.
func (e Element) SmallInt() (int, bool) {
	if len(e.data) == 0 {
		return 0, true
	}
	if len(e.data) == 1 && e.data[0] >= 1 && e.data[0] <= 16 {
		return int(e.data[0]), true
	}
	return 0, false
}

// boolElement is the element a comparison or signature check pushes: the
// single byte 0x01 for true, the empty element for false.
func boolElement(v bool) Element {
	if v {
		return Element{data: []byte{0x01}}
	}
	return Element{}
}
