package script

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// WrapMode describes how the script the machine executes binds to the
// committed locking script. Legacy scripts execute directly; script-hash and
// witness templates defer to an embedded script whose digest the locking
// script pins.
type WrapMode uint8

const (
	WrapNone WrapMode = iota
	WrapP2SH
	WrapP2WPKH
	WrapP2WSH
)

var wrapModeNames = []string{"none", "p2sh", "p2wpkh", "p2wsh"}

func (m WrapMode) String() string {
	if int(m) >= len(wrapModeNames) {
		return "invalid"
	}
	return wrapModeNames[m]
}

// EmbeddedScriptError reports a missing, unexpected, or mismatching embedded
// (redeem or witness) script for the locking script's template.
type EmbeddedScriptError struct {
	Mode   WrapMode
	Reason string
}

func (e *EmbeddedScriptError) Error() string {
	return fmt.Sprintf("script: %s: %s", e.Mode, e.Reason)
}

// DeriveEffective resolves the script the stack machine actually executes
// for a locking script, together with the wrap mode binding the two:
//
//   - pay-to-script-hash: the embedded redeem script executes; its HASH160
//     must equal the hash in the locking script.
//   - version-0 witness key hash: the canonical OP_DUP OP_HASH160 <hash>
//     OP_EQUALVERIFY OP_CHECKSIG sequence executes over the same hash.
//   - version-0 witness script hash: the embedded witness script executes;
//     its SHA256 must equal the 32-byte program.
//   - anything else executes as-is and must not carry an embedded script.
func DeriveEffective(locking, embedded []byte) (WrapMode, []byte, error) {
	switch ClassifyScript(locking) {
	case ScriptHashTy:
		if embedded == nil {
			return WrapP2SH, nil, &EmbeddedScriptError{Mode: WrapP2SH, Reason: "redeem script required"}
		}
		want := ExtractScriptHash(locking)
		if got := btcutil.Hash160(embedded); !bytes.Equal(got, want) {
			return WrapP2SH, nil, &EmbeddedScriptError{Mode: WrapP2SH, Reason: "redeem script hash mismatch"}
		}
		return WrapP2SH, append([]byte(nil), embedded...), nil

	case WitnessV0PubKeyHashTy:
		if embedded != nil {
			return WrapP2WPKH, nil, &EmbeddedScriptError{Mode: WrapP2WPKH, Reason: "unexpected embedded script"}
		}
		_, program := ExtractWitnessProgram(locking)
		eff, err := NewScriptBuilder().
			AddOp(OP_DUP).AddOp(OP_HASH160).
			AddData(program).
			AddOp(OP_EQUALVERIFY).AddOp(OP_CHECKSIG).
			Script()
		if err != nil {
			panic("script: canonical key-hash script construction failed")
		}
		return WrapP2WPKH, eff, nil

	case WitnessV0ScriptHashTy:
		if embedded == nil {
			return WrapP2WSH, nil, &EmbeddedScriptError{Mode: WrapP2WSH, Reason: "witness script required"}
		}
		_, program := ExtractWitnessProgram(locking)
		if got := chainhash.HashB(embedded); !bytes.Equal(got, program) {
			return WrapP2WSH, nil, &EmbeddedScriptError{Mode: WrapP2WSH, Reason: "witness script hash mismatch"}
		}
		return WrapP2WSH, append([]byte(nil), embedded...), nil
	}

	if embedded != nil {
		return WrapNone, nil, &EmbeddedScriptError{Mode: WrapNone, Reason: "unexpected embedded script"}
	}
	return WrapNone, append([]byte(nil), locking...), nil
}
