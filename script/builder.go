package script

import (
	"encoding/binary"
	"fmt"
)

// ScriptBuilder assembles scripts from opcodes and data pushes, choosing the
// canonical (minimal) push encoding for each data item. Errors stick: after
// the first failed Add, further calls are no-ops and Script returns the
// error.
type ScriptBuilder struct {
	script []byte
	err    error
}

// NewScriptBuilder returns an empty builder.
func NewScriptBuilder() *ScriptBuilder {
	return &ScriptBuilder{}
}

// AddOp appends a single opcode byte.
func (b *ScriptBuilder) AddOp(op byte) *ScriptBuilder {
	if b.err != nil {
		return b
	}
	b.script = append(b.script, op)
	return b
}

// AddData appends a canonical push of data: OP_0 for empty, OP_1..OP_16 for
// the matching single-byte small integers, a direct OP_DATA_n push up to 75
// bytes, then the smallest OP_PUSHDATA form.
func (b *ScriptBuilder) AddData(data []byte) *ScriptBuilder {
	if b.err != nil {
		return b
	}
	n := len(data)
	switch {
	case n == 0:
		b.script = append(b.script, OP_0)
	case n == 1 && data[0] >= 1 && data[0] <= 16:
		b.script = append(b.script, OP_1+data[0]-1)
	case n <= OP_DATA_75:
		b.script = append(b.script, byte(n))
		b.script = append(b.script, data...)
	case n <= 0xff:
		b.script = append(b.script, OP_PUSHDATA1, byte(n))
		b.script = append(b.script, data...)
	case n <= 0xffff:
		b.script = append(b.script, OP_PUSHDATA2)
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(n))
		b.script = append(b.script, l[:]...)
		b.script = append(b.script, data...)
	default:
		b.script = append(b.script, OP_PUSHDATA4)
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(n))
		b.script = append(b.script, l[:]...)
		b.script = append(b.script, data...)
	}
	return b
}

// AddInt64 appends a push of a small non-negative integer. Only 0 through 16
// have canonical single-opcode encodings in the supported subset; anything
// else is an error.
func (b *ScriptBuilder) AddInt64(n int64) *ScriptBuilder {
	if b.err != nil {
		return b
	}
	if n < 0 || n > 16 {
		b.err = fmt.Errorf("script: integer push %d outside supported range 0..16", n)
		return b
	}
	if n == 0 {
		b.script = append(b.script, OP_0)
		return b
	}
	b.script = append(b.script, OP_1+byte(n)-1)
	return b
}

// Reset discards the accumulated script and any sticky error.
func (b *ScriptBuilder) Reset() *ScriptBuilder {
	b.script = nil
	b.err = nil
	return b
}

// Script returns the assembled bytes, or the first error encountered while
// building.
func (b *ScriptBuilder) Script() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return append([]byte(nil), b.script...), nil
}
