package script

import (
	"encoding/binary"
	"fmt"
)

// UnsupportedOpcodeError reports a script byte outside the supported opcode
// table. The script cannot be proven with this circuit family.
type UnsupportedOpcodeError struct {
	Position int
	Opcode   byte
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("script: unsupported opcode %s at position %d", OpcodeName(e.Opcode), e.Position)
}

// ImmediateTooLargeError reports a push opcode declaring more immediate
// bytes than the configured bound allows.
type ImmediateTooLargeError struct {
	Position int
	Declared int
	Max      int
}

func (e *ImmediateTooLargeError) Error() string {
	return fmt.Sprintf("script: push at position %d declares %d immediate bytes, limit %d", e.Position, e.Declared, e.Max)
}

// MalformedPushError reports a push opcode declaring more immediate bytes
// than remain in the script.
type MalformedPushError struct {
	Position  int
	Declared  int
	Remaining int
}

func (e *MalformedPushError) Error() string {
	return fmt.Sprintf("script: push at position %d declares %d immediate bytes but only %d remain", e.Position, e.Declared, e.Remaining)
}

// TooLongError reports a script exceeding the maximum script length.
type TooLongError struct {
	Len int
	Max int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("script: %d bytes exceeds maximum script length %d", e.Len, e.Max)
}

// Record is one decoded instruction. Position is the byte offset of the
// opcode within the raw script; padding records carry Position -1. Immediate
// holds the operand bytes of push opcodes verbatim and is never mutated
// after decoding.
type Record struct {
	Position  int
	Opcode    byte
	Immediate []byte
	Class     Class
	Kind      Kind
}

// sentinelRecord pads the instruction sequence out to its fixed length. A
// no-op leaves every simulated machine state unchanged.
func sentinelRecord() Record {
	return Record{Position: -1, Opcode: OP_NOP, Class: ClassFlowOp, Kind: KindNone}
}

// Program is a decoded script: a fixed-length instruction sequence of
// exactly MaxLen records, the first N of which are real, the rest no-op
// sentinels.
type Program struct {
	Raw     []byte
	Records []Record
	N       int
	MaxLen  int
}

// Instructions returns the real (non-sentinel) records.
func (p *Program) Instructions() []Record { return p.Records[:p.N] }

// Decode parses a raw locking script into a fixed-shape Program. maxLen
// bounds the script size in bytes (and the record count), maxPush the
// immediate size any single push may declare. The decode is strict: any
// byte outside the supported opcode table, an oversized push declaration,
// or a push running past the end of the script aborts with a typed error
// carrying the offending position.
func Decode(raw []byte, maxLen, maxPush int) (*Program, error) {
	if maxLen <= 0 {
		panic("script: non-positive maximum script length")
	}
	if len(raw) > maxLen {
		return nil, &TooLongError{Len: len(raw), Max: maxLen}
	}

	p := &Program{
		Raw:     append([]byte(nil), raw...),
		Records: make([]Record, 0, maxLen),
		MaxLen:  maxLen,
	}

	for i := 0; i < len(raw); {
		op := raw[i]
		info := opcodeTable[op]
		if info.class == ClassUnsupported {
			return nil, &UnsupportedOpcodeError{Position: i, Opcode: op}
		}

		rec := Record{Position: i, Opcode: op, Class: info.class, Kind: info.kind}
		switch {
		case info.length == 1:
			i++
		case info.length > 1:
			n := info.length - 1
			if n > maxPush {
				return nil, &ImmediateTooLargeError{Position: i, Declared: n, Max: maxPush}
			}
			if i+1+n > len(raw) {
				return nil, &MalformedPushError{Position: i, Declared: n, Remaining: len(raw) - i - 1}
			}
			rec.Immediate = append([]byte(nil), raw[i+1:i+1+n]...)
			i += 1 + n
		default:
			prefix := -info.length
			if i+1+prefix > len(raw) {
				return nil, &MalformedPushError{Position: i, Declared: prefix, Remaining: len(raw) - i - 1}
			}
			var n int
			switch prefix {
			case 1:
				n = int(raw[i+1])
			case 2:
				n = int(binary.LittleEndian.Uint16(raw[i+1 : i+3]))
			case 4:
				v := binary.LittleEndian.Uint32(raw[i+1 : i+5])
				if v > uint32(maxLen) {
					return nil, &ImmediateTooLargeError{Position: i, Declared: int(v), Max: maxPush}
				}
				n = int(v)
			}
			if n > maxPush {
				return nil, &ImmediateTooLargeError{Position: i, Declared: n, Max: maxPush}
			}
			if i+1+prefix+n > len(raw) {
				return nil, &MalformedPushError{Position: i, Declared: n, Remaining: len(raw) - i - 1 - prefix}
			}
			rec.Immediate = append([]byte(nil), raw[i+1+prefix:i+1+prefix+n]...)
			i += 1 + prefix + n
		}
		p.Records = append(p.Records, rec)
	}

	p.N = len(p.Records)
	for len(p.Records) < maxLen {
		p.Records = append(p.Records, sentinelRecord())
	}
	return p, nil
}

// Serialize reassembles the raw script bytes from the real records. For any
// Program produced by Decode, Serialize(p) equals the original input.
func Serialize(p *Program) []byte {
	out := make([]byte, 0, len(p.Raw))
	for _, rec := range p.Instructions() {
		out = append(out, rec.Opcode)
		info := opcodeTable[rec.Opcode]
		switch {
		case info.length > 1:
			out = append(out, rec.Immediate...)
		case info.length < 0:
			n := len(rec.Immediate)
			switch -info.length {
			case 1:
				out = append(out, byte(n))
			case 2:
				var b [2]byte
				binary.LittleEndian.PutUint16(b[:], uint16(n))
				out = append(out, b[:]...)
			case 4:
				var b [4]byte
				binary.LittleEndian.PutUint32(b[:], uint32(n))
				out = append(out, b[:]...)
			}
			out = append(out, rec.Immediate...)
		}
	}
	return out
}
