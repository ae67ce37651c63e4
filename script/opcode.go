// Package script decodes Bitcoin locking scripts into the fixed-shape opcode
// records consumed by the proving circuit. Only the opcode subset needed for
// standard locking-script templates is supported; anything else fails the
// decode so that circuit construction can be refused up front.
package script

import "fmt"

// Opcode byte values for the supported subset. Values follow the Bitcoin
// wire protocol.
const (
	OP_0                   = 0x00
	OP_DATA_1              = 0x01
	OP_DATA_20             = 0x14
	OP_DATA_32             = 0x20
	OP_DATA_33             = 0x21
	OP_DATA_65             = 0x41
	OP_DATA_75             = 0x4b
	OP_PUSHDATA1           = 0x4c
	OP_PUSHDATA2           = 0x4d
	OP_PUSHDATA4           = 0x4e
	OP_1                   = 0x51
	OP_2                   = 0x52
	OP_3                   = 0x53
	OP_4                   = 0x54
	OP_16                  = 0x60
	OP_NOP                 = 0x61
	OP_IF                  = 0x63
	OP_ELSE                = 0x67
	OP_ENDIF               = 0x68
	OP_VERIFY              = 0x69
	OP_DROP                = 0x75
	OP_DUP                 = 0x76
	OP_SWAP                = 0x7c
	OP_EQUAL               = 0x87
	OP_EQUALVERIFY         = 0x88
	OP_BOOLAND             = 0x9a
	OP_BOOLOR              = 0x9b
	OP_SHA256              = 0xa8
	OP_HASH160             = 0xa9
	OP_CHECKSIG            = 0xac
	OP_CHECKSIGVERIFY      = 0xad
	OP_CHECKMULTISIG       = 0xae
	OP_CHECKMULTISIGVERIFY = 0xaf
)

// Class partitions opcodes the way the circuit treats them.
type Class uint8

const (
	// ClassUnsupported marks bytes outside the supported table. It is the
	// zero value so unfilled table entries reject by default.
	ClassUnsupported Class = iota
	ClassPush
	ClassStackOp
	ClassFlowOp
	ClassOther
	ClassCrypto
)

var classNames = map[Class]string{
	ClassUnsupported: "unsupported",
	ClassPush:        "push",
	ClassStackOp:     "stackop",
	ClassFlowOp:      "flowop",
	ClassOther:       "other",
	ClassCrypto:      "crypto",
}

func (c Class) String() string {
	if n, ok := classNames[c]; ok {
		return n
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Kind identifies which cryptographic obligation a ClassCrypto opcode
// produces.
type Kind uint8

const (
	KindNone Kind = iota
	KindCheckSig
	KindCheckMultisig
	KindHash160
	KindSha256
)

var kindNames = map[Kind]string{
	KindNone:          "none",
	KindCheckSig:      "checksig",
	KindCheckMultisig: "checkmultisig",
	KindHash160:       "hash160",
	KindSha256:        "sha256",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// opcodeInfo is one entry of the 256-way classification table. length is the
// total encoded size in bytes for fixed-size opcodes (1 for plain opcodes,
// 1+n for OP_DATA_n); negative lengths -1/-2/-4 mean the opcode is followed
// by a little-endian length prefix of that many bytes.
type opcodeInfo struct {
	name   string
	class  Class
	kind   Kind
	length int
	verify bool
}

var opcodeTable [256]opcodeInfo

func init() {
	opcodeTable[OP_0] = opcodeInfo{"OP_0", ClassPush, KindNone, 1, false}
	for op := OP_DATA_1; op <= OP_DATA_75; op++ {
		opcodeTable[op] = opcodeInfo{fmt.Sprintf("OP_DATA_%d", op), ClassPush, KindNone, 1 + op, false}
	}
	opcodeTable[OP_PUSHDATA1] = opcodeInfo{"OP_PUSHDATA1", ClassPush, KindNone, -1, false}
	opcodeTable[OP_PUSHDATA2] = opcodeInfo{"OP_PUSHDATA2", ClassPush, KindNone, -2, false}
	opcodeTable[OP_PUSHDATA4] = opcodeInfo{"OP_PUSHDATA4", ClassPush, KindNone, -4, false}
	for op := OP_1; op <= OP_16; op++ {
		opcodeTable[op] = opcodeInfo{fmt.Sprintf("OP_%d", op-OP_1+1), ClassPush, KindNone, 1, false}
	}

	opcodeTable[OP_NOP] = opcodeInfo{"OP_NOP", ClassFlowOp, KindNone, 1, false}
	opcodeTable[OP_IF] = opcodeInfo{"OP_IF", ClassFlowOp, KindNone, 1, false}
	opcodeTable[OP_ELSE] = opcodeInfo{"OP_ELSE", ClassFlowOp, KindNone, 1, false}
	opcodeTable[OP_ENDIF] = opcodeInfo{"OP_ENDIF", ClassFlowOp, KindNone, 1, false}
	opcodeTable[OP_VERIFY] = opcodeInfo{"OP_VERIFY", ClassFlowOp, KindNone, 1, true}

	opcodeTable[OP_DROP] = opcodeInfo{"OP_DROP", ClassStackOp, KindNone, 1, false}
	opcodeTable[OP_DUP] = opcodeInfo{"OP_DUP", ClassStackOp, KindNone, 1, false}
	opcodeTable[OP_SWAP] = opcodeInfo{"OP_SWAP", ClassStackOp, KindNone, 1, false}

	opcodeTable[OP_EQUAL] = opcodeInfo{"OP_EQUAL", ClassOther, KindNone, 1, false}
	opcodeTable[OP_EQUALVERIFY] = opcodeInfo{"OP_EQUALVERIFY", ClassOther, KindNone, 1, true}
	opcodeTable[OP_BOOLAND] = opcodeInfo{"OP_BOOLAND", ClassOther, KindNone, 1, false}
	opcodeTable[OP_BOOLOR] = opcodeInfo{"OP_BOOLOR", ClassOther, KindNone, 1, false}

	opcodeTable[OP_SHA256] = opcodeInfo{"OP_SHA256", ClassCrypto, KindSha256, 1, false}
	opcodeTable[OP_HASH160] = opcodeInfo{"OP_HASH160", ClassCrypto, KindHash160, 1, false}
	opcodeTable[OP_CHECKSIG] = opcodeInfo{"OP_CHECKSIG", ClassCrypto, KindCheckSig, 1, false}
	opcodeTable[OP_CHECKSIGVERIFY] = opcodeInfo{"OP_CHECKSIGVERIFY", ClassCrypto, KindCheckSig, 1, true}
	opcodeTable[OP_CHECKMULTISIG] = opcodeInfo{"OP_CHECKMULTISIG", ClassCrypto, KindCheckMultisig, 1, false}
	opcodeTable[OP_CHECKMULTISIGVERIFY] = opcodeInfo{"OP_CHECKMULTISIGVERIFY", ClassCrypto, KindCheckMultisig, 1, true}
}

// OpcodeName returns the canonical name for an opcode byte, or a hex
// placeholder for bytes outside the supported table.
func OpcodeName(op byte) string {
	if e := opcodeTable[op]; e.class != ClassUnsupported {
		return e.name
	}
	return fmt.Sprintf("OP_UNKNOWN(0x%02x)", op)
}

// ClassOf returns the classification of an opcode byte.
func ClassOf(op byte) Class { return opcodeTable[op].class }

// KindOf returns the obligation kind produced by an opcode byte, KindNone
// for non-crypto opcodes.
func KindOf(op byte) Kind { return opcodeTable[op].kind }

// IsVerify reports whether the opcode asserts its result instead of pushing
// it (OP_VERIFY, OP_EQUALVERIFY, OP_CHECKSIGVERIFY, OP_CHECKMULTISIGVERIFY).
func IsVerify(op byte) bool { return opcodeTable[op].verify }

// IsSmallInt reports whether the opcode pushes a single small integer
// (OP_0, OP_1 through OP_16).
func IsSmallInt(op byte) bool {
	return op == OP_0 || (op >= OP_1 && op <= OP_16)
}

// AsSmallInt returns the integer pushed by a small-int opcode. It panics if
// the opcode is not a small int; callers gate on IsSmallInt.
func AsSmallInt(op byte) int {
	if op == OP_0 {
		return 0
	}
	if op < OP_1 || op > OP_16 {
		panic("script: opcode is not a small integer")
	}
	return int(op - OP_1 + 1)
}
