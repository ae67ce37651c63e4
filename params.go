// Package bitcoinvm assembles the zero-knowledge Bitcoin locking-script
// interpreter: a circuit that proves a prover can produce valid spending
// witnesses for a UTXO's locking script without revealing which obligations
// it satisfied. The script decoder, stack machine, obligation accumulator
// and discharge gadgets live in their own packages; this package fixes the
// circuit geometry (Params), runs the strict host-side construction pipeline
// (Instance), and wires everything into one constraint system (Circuit).
package bitcoinvm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/zkpor/bitcoinvm/interp"
	"github.com/zkpor/bitcoinvm/obligation"
)

// Params fixes the geometry of one circuit instantiation. Every bound is a
// build-time constant: changing any of them produces a different circuit
// (and a different Fingerprint), never a runtime reconfiguration.
type Params struct {
	// MaxScriptLen bounds the executed script in bytes; one machine row is
	// laid down per byte.
	MaxScriptLen int `cbor:"1,keyasint"`
	// MaxStackDepth bounds the simulated stack.
	MaxStackDepth int `cbor:"2,keyasint"`
	// MaxWitnessElems and MaxWitnessElemLen bound the initial stack the
	// spending input supplies.
	MaxWitnessElems   int `cbor:"3,keyasint"`
	MaxWitnessElemLen int `cbor:"4,keyasint"`
	// MaxPushLen bounds the immediate data of one push opcode.
	MaxPushLen int `cbor:"5,keyasint"`
	// MaxPreimageLen bounds the preimage of one hash obligation.
	MaxPreimageLen int `cbor:"6,keyasint"`
	// MaxMultisigKeys bounds n in m-of-n multisig obligations.
	MaxMultisigKeys int `cbor:"7,keyasint"`

	// Per-kind obligation capacities.
	KCheckSig      int `cbor:"8,keyasint"`
	KCheckMultisig int `cbor:"9,keyasint"`
	KHash160       int `cbor:"10,keyasint"`
	KSha256        int `cbor:"11,keyasint"`
}

// DefaultParams covers every standard locking-script template with Bitcoin's
// own 520-byte script-element limit.
func DefaultParams() Params {
	return Params{
		MaxScriptLen:      520,
		MaxStackDepth:     33,
		MaxWitnessElems:   5,
		MaxWitnessElemLen: 80,
		MaxPushLen:        520,
		MaxPreimageLen:    80,
		MaxMultisigKeys:   3,
		KCheckSig:         5,
		KCheckMultisig:    1,
		KHash160:          2,
		KSha256:           1,
	}
}

// TestParams is a small geometry that keeps circuit unit tests fast while
// still fitting every standard template built from compressed keys.
func TestParams() Params {
	return Params{
		MaxScriptLen:      112,
		MaxStackDepth:     9,
		MaxWitnessElems:   4,
		MaxWitnessElemLen: 40,
		MaxPushLen:        80,
		MaxPreimageLen:    40,
		MaxMultisigKeys:   3,
		KCheckSig:         3,
		KCheckMultisig:    1,
		KHash160:          1,
		KSha256:           1,
	}
}

// Validate rejects zero, negative, or mutually inconsistent bounds.
func (p Params) Validate() error {
	check := func(name string, v int) error {
		if v <= 0 {
			return fmt.Errorf("bitcoinvm: %s must be positive, got %d", name, v)
		}
		return nil
	}
	for _, c := range []struct {
		name string
		v    int
	}{
		{"MaxScriptLen", p.MaxScriptLen},
		{"MaxStackDepth", p.MaxStackDepth},
		{"MaxWitnessElems", p.MaxWitnessElems},
		{"MaxWitnessElemLen", p.MaxWitnessElemLen},
		{"MaxPushLen", p.MaxPushLen},
		{"MaxPreimageLen", p.MaxPreimageLen},
		{"MaxMultisigKeys", p.MaxMultisigKeys},
		{"KCheckSig", p.KCheckSig},
		{"KCheckMultisig", p.KCheckMultisig},
		{"KHash160", p.KHash160},
		{"KSha256", p.KSha256},
	} {
		if err := check(c.name, c.v); err != nil {
			return err
		}
	}
	if p.MaxScriptLen < 34 {
		return fmt.Errorf("bitcoinvm: MaxScriptLen %d cannot hold the witness script-hash template (34 bytes)", p.MaxScriptLen)
	}
	if p.MaxMultisigKeys > 3 {
		return fmt.Errorf("bitcoinvm: MaxMultisigKeys %d exceeds the multisig shape bound 3", p.MaxMultisigKeys)
	}
	if p.MaxStackDepth < p.MaxMultisigKeys+2 {
		return fmt.Errorf("bitcoinvm: MaxStackDepth %d too small for %d-key multisig shape reads", p.MaxStackDepth, p.MaxMultisigKeys)
	}
	if p.MaxWitnessElems > p.MaxStackDepth {
		return fmt.Errorf("bitcoinvm: MaxWitnessElems %d exceeds MaxStackDepth %d", p.MaxWitnessElems, p.MaxStackDepth)
	}
	if p.MaxPushLen > p.MaxScriptLen {
		return fmt.Errorf("bitcoinvm: MaxPushLen %d exceeds MaxScriptLen %d", p.MaxPushLen, p.MaxScriptLen)
	}
	if p.MaxPreimageLen < p.MaxWitnessElemLen {
		return fmt.Errorf("bitcoinvm: MaxPreimageLen %d cannot hold a witness element of %d bytes", p.MaxPreimageLen, p.MaxWitnessElemLen)
	}
	return nil
}

// Fingerprint is the SHA-256 of the canonical CBOR encoding of the
// parameters. It keys compiled-artifact caches: equal fingerprints mean
// byte-identical circuit shape.
func (p Params) Fingerprint() ([32]byte, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return [32]byte{}, err
	}
	enc, err := em.Marshal(p)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(enc), nil
}

// FingerprintHex is Fingerprint as a hex string, for log fields and cache
// keys.
func (p Params) FingerprintHex() (string, error) {
	fp, err := p.Fingerprint()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(fp[:]), nil
}

// Limits returns the host-simulation bounds.
func (p Params) Limits() interp.Limits {
	return interp.Limits{
		MaxStackDepth:     p.MaxStackDepth,
		MaxWitnessElems:   p.MaxWitnessElems,
		MaxWitnessElemLen: p.MaxWitnessElemLen,
		MaxMultisigKeys:   p.MaxMultisigKeys,
	}
}

// MachineParams returns the in-circuit machine geometry.
func (p Params) MachineParams() interp.MachineParams {
	return interp.MachineParams{
		ScriptLen:      p.MaxScriptLen,
		StackDepth:     p.MaxStackDepth,
		WitnessElems:   p.MaxWitnessElems,
		WitnessElemLen: p.MaxWitnessElemLen,
		MultisigKeys:   p.MaxMultisigKeys,
	}
}

// Capacities returns the per-kind obligation bounds.
func (p Params) Capacities() obligation.Capacities {
	return obligation.Capacities{
		CheckSig:      p.KCheckSig,
		CheckMultisig: p.KCheckMultisig,
		Hash160:       p.KHash160,
		Sha256:        p.KSha256,
	}
}
