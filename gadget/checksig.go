package gadget

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/emulated/sw_emulated"
	"github.com/consensys/gnark/std/math/emulated"
	"github.com/consensys/gnark/std/signature/ecdsa"

	"github.com/zkpor/bitcoinvm/obligation"
)

type (
	secpFp = emulated.Secp256k1Fp
	secpFr = emulated.Secp256k1Fr
)

// CheckSigWitness carries the discharge data of one signature verification:
// the affine public key and the raw (r, s) signature scalars. For unselected
// slots the host assigns the fixed dummy tuple.
type CheckSigWitness struct {
	PubX emulated.Element[secpFp]
	PubY emulated.Element[secpFp]
	SigR emulated.Element[secpFr]
	SigS emulated.Element[secpFr]
}

// MultisigWitness is one CheckSigWitness per key position of a multisig
// slot.
type MultisigWitness struct {
	Keys []CheckSigWitness
}

// NewMultisigWitness allocates a zero-shaped witness for maxKeys positions.
func NewMultisigWitness(maxKeys int) MultisigWitness {
	return MultisigWitness{Keys: make([]CheckSigWitness, maxKeys)}
}

// DummyCheckSigWitness returns the fixed masking tuple.
func DummyCheckSigWitness() CheckSigWitness {
	return CheckSigWitness{
		PubX: emulated.ValueOf[secpFp](dummyPubX),
		PubY: emulated.ValueOf[secpFp](dummyPubY),
		SigR: emulated.ValueOf[secpFr](dummySigR),
		SigS: emulated.ValueOf[secpFr](dummySigS),
	}
}

// NewCheckSigWitness builds the discharge witness for a real signature.
func NewCheckSigWitness(pub *btcec.PublicKey, sigR, sigS *big.Int) CheckSigWitness {
	return CheckSigWitness{
		PubX: emulated.ValueOf[secpFp](pub.X()),
		PubY: emulated.ValueOf[secpFp](pub.Y()),
		SigR: emulated.ValueOf[secpFr](sigR),
		SigS: emulated.ValueOf[secpFr](sigS),
	}
}

// ParseDERSignature extracts the raw (r, s) scalars from a DER-encoded
// ECDSA signature, as btcec serializes them.
func ParseDERSignature(der []byte) (*big.Int, *big.Int, error) {
	if len(der) < 8 || der[0] != 0x30 || der[2] != 0x02 {
		return nil, nil, fmt.Errorf("gadget: malformed DER signature")
	}
	rLen := int(der[3])
	if 4+rLen+2 > len(der) || der[4+rLen] != 0x02 {
		return nil, nil, fmt.Errorf("gadget: malformed DER signature")
	}
	sLen := int(der[4+rLen+1])
	if 4+rLen+2+sLen > len(der) {
		return nil, nil, fmt.Errorf("gadget: malformed DER signature")
	}
	r := new(big.Int).SetBytes(der[4 : 4+rLen])
	s := new(big.Int).SetBytes(der[4+rLen+2 : 4+rLen+2+sLen])
	return r, s, nil
}

// DischargeCheckSig proves one CheckSig obligation slot. When the slot is
// selected, the witnessed public key must serialize to the slot's key bytes
// (compressed 33-byte or uncompressed 65-byte form) and the signature must
// verify against the public sighash. Unselected slots verify the dummy
// tuple over the dummy digest, so the gadget's shape and cost are identical
// either way and the verifier learns nothing about which slots were used.
func DischargeCheckSig(api frontend.API, slot *obligation.CheckSigSlot, w *CheckSigWitness, sighash []frontend.Variable) error {
	fpField, err := emulated.NewField[secpFp](api)
	if err != nil {
		return err
	}
	frField, err := emulated.NewField[secpFr](api)
	if err != nil {
		return err
	}

	bindKeyBytes(api, fpField, slot.Selected, slot.Key, slot.KeyLen, &w.PubX, &w.PubY)

	real := bytesToScalar(api, sighash)
	dummy := emulated.ValueOf[secpFr](dummyMsg)
	msg := frField.Select(slot.Selected, &real, &dummy)

	pub := ecdsa.PublicKey[secpFp, secpFr]{X: w.PubX, Y: w.PubY}
	sig := ecdsa.Signature[secpFr]{R: w.SigR, S: w.SigS}
	pub.Verify(api, sw_emulated.GetSecp256k1Params(), msg, &sig)
	return nil
}

// DischargeMultisig proves one CheckMultisig obligation slot: every used key
// position binds its witnessed public key to the slot's key bytes and
// verifies a signature over the sighash. The key-use shape itself (exactly
// m used positions within n, only on a selected slot) is enforced by the
// accumulator constraints.
func DischargeMultisig(api frontend.API, slot *obligation.MultisigSlot, w *MultisigWitness, sighash []frontend.Variable) error {
	if len(w.Keys) != len(slot.Keys) {
		panic("gadget: multisig witness width mismatch")
	}
	fpField, err := emulated.NewField[secpFp](api)
	if err != nil {
		return err
	}
	frField, err := emulated.NewField[secpFr](api)
	if err != nil {
		return err
	}

	real := bytesToScalar(api, sighash)
	dummy := emulated.ValueOf[secpFr](dummyMsg)

	for t := range w.Keys {
		kw := &w.Keys[t]
		bindKeyBytes(api, fpField, slot.KeyUse[t], slot.Keys[t], slot.KeyLens[t], &kw.PubX, &kw.PubY)
		msg := frField.Select(slot.KeyUse[t], &real, &dummy)
		pub := ecdsa.PublicKey[secpFp, secpFr]{X: kw.PubX, Y: kw.PubY}
		sig := ecdsa.Signature[secpFr]{R: kw.SigR, S: kw.SigS}
		pub.Verify(api, sw_emulated.GetSecp256k1Params(), msg, &sig)
	}
	return nil
}

// bindKeyBytes ties the script's serialized public-key bytes to the affine
// point the ECDSA gadget verifies under, gated by flag. Compressed keys
// carry the 0x02/0x03 parity prefix plus big-endian x; uncompressed keys
// the 0x04 prefix plus x and y.
func bindKeyBytes(api frontend.API, fpField *emulated.Field[secpFp], flag frontend.Variable, key []frontend.Variable, keyLen frontend.Variable, pubX, pubY *emulated.Element[secpFp]) {
	isCompressed := api.IsZero(api.Sub(keyLen, 33))
	isUncompressed := api.IsZero(api.Sub(keyLen, 65))
	api.AssertIsEqual(api.Mul(flag, api.Sub(1, api.Add(isCompressed, isUncompressed))), 0)

	xBytes := elementBytes(api, fpField, pubX)
	yBytes := elementBytes(api, fpField, pubY)
	yParity := fpField.ToBits(pubY)[0]

	gateC := api.Mul(flag, isCompressed)
	api.AssertIsEqual(api.Mul(gateC, api.Sub(key[0], api.Add(2, yParity))), 0)
	gateU := api.Mul(flag, isUncompressed)
	api.AssertIsEqual(api.Mul(gateU, api.Sub(key[0], 4)), 0)
	for i := 0; i < 32; i++ {
		api.AssertIsEqual(api.Mul(flag, api.Sub(key[1+i], xBytes[i])), 0)
		api.AssertIsEqual(api.Mul(gateU, api.Sub(key[33+i], yBytes[i])), 0)
	}
}

// elementBytes returns the 32 big-endian bytes of an emulated base-field
// element.
func elementBytes(api frontend.API, f *emulated.Field[secpFp], e *emulated.Element[secpFp]) [32]frontend.Variable {
	bits := f.ToBits(e)
	var out [32]frontend.Variable
	for i := 0; i < 32; i++ {
		out[i] = api.FromBinary(bits[(31-i)*8 : (31-i)*8+8]...)
	}
	return out
}

// bytesToScalar folds 32 big-endian digest bytes into a scalar-field
// element, limb by limb, without reduction; the emulated field reduces
// lazily the way Bitcoin's own z = int(digest) mod n does.
func bytesToScalar(api frontend.API, digest []frontend.Variable) emulated.Element[secpFr] {
	if len(digest) != 32 {
		panic("gadget: sighash must be 32 bytes")
	}
	limbs := make([]frontend.Variable, 4)
	for limb := 0; limb < 4; limb++ {
		bits := make([]frontend.Variable, 64)
		for byteIdx := 0; byteIdx < 8; byteIdx++ {
			src := digest[31-limb*8-byteIdx]
			b := api.ToBinary(src, 8)
			copy(bits[byteIdx*8:byteIdx*8+8], b)
		}
		limbs[limb] = api.FromBinary(bits...)
	}
	return emulated.Element[secpFr]{Limbs: limbs}
}
