package gadget

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/sha2"
	"github.com/consensys/gnark/std/math/cmp"
	"github.com/consensys/gnark/std/math/uints"

	"github.com/zkpor/bitcoinvm/obligation"
)

// Sha256Bytes hashes data[0:length] in-circuit. The width is fixed at build
// time; length is a witness and the std sha2 gadget places the padding after
// it, so trailing slot bytes do not affect the digest.
func Sha256Bytes(api frontend.API, data []frontend.Variable, length frontend.Variable) ([32]frontend.Variable, error) {
	var out [32]frontend.Variable
	uapi, err := uints.New[uints.U32](api)
	if err != nil {
		return out, err
	}
	h, err := sha2.New(api)
	if err != nil {
		return out, err
	}
	in := make([]uints.U8, len(data))
	for i, v := range data {
		in[i] = uapi.ByteValueOf(v)
	}
	h.Write(in)
	digest := h.FixedLengthSum(length)
	for i := 0; i < 32; i++ {
		out[i] = digest[i].Val
	}
	return out, nil
}

// Sha256Fixed hashes a full fixed-width byte sequence, for commitments over
// padded buffers whose width is part of the statement.
func Sha256Fixed(api frontend.API, data []frontend.Variable) ([32]frontend.Variable, error) {
	var out [32]frontend.Variable
	uapi, err := uints.New[uints.U32](api)
	if err != nil {
		return out, err
	}
	h, err := sha2.New(api)
	if err != nil {
		return out, err
	}
	in := make([]uints.U8, len(data))
	for i, v := range data {
		in[i] = uapi.ByteValueOf(v)
	}
	h.Write(in)
	digest := h.Sum()
	for i := 0; i < 32; i++ {
		out[i] = digest[i].Val
	}
	return out, nil
}

// Hash160Bytes is RIPEMD160(SHA256(data[0:length])), Bitcoin's OP_HASH160.
func Hash160Bytes(api frontend.API, data []frontend.Variable, length frontend.Variable) ([20]frontend.Variable, error) {
	sha, err := Sha256Bytes(api, data, length)
	if err != nil {
		return [20]frontend.Variable{}, err
	}
	return Ripemd160(api, sha[:]), nil
}

// DischargeHash160 proves a Hash160 obligation slot: the slot's witnessed
// digest is RIPEMD160(SHA256(preimage)). Every reachable slot is discharged;
// hash obligations carry no selection bit because an unverified digest would
// let the prover forge the equality comparisons the script builds on it.
// Unreachable and sentinel slots carry zero operands and skip the equality,
// with the hashers still instantiated so circuit shape stays fixed.
func DischargeHash160(api frontend.API, slot *obligation.HashSlot) error {
	constrainHashInput(api, slot)
	digest, err := Hash160Bytes(api, slot.Input, slot.InputLen)
	if err != nil {
		return err
	}
	assertBytesEqualWhen(api, slot.Reachable, slot.Digest, digest[:])
	return nil
}

// DischargeSha256 proves a Sha256 obligation slot the same way with a
// single SHA-256.
func DischargeSha256(api frontend.API, slot *obligation.HashSlot) error {
	constrainHashInput(api, slot)
	digest, err := Sha256Bytes(api, slot.Input, slot.InputLen)
	if err != nil {
		return err
	}
	assertBytesEqualWhen(api, slot.Reachable, slot.Digest, digest[:])
	return nil
}

func constrainHashInput(api frontend.API, slot *obligation.HashSlot) {
	api.AssertIsEqual(cmp.IsLessOrEqual(api, slot.InputLen, len(slot.Input)), 1)
	for _, b := range slot.Digest {
		api.ToBinary(b, 8)
	}
}

func assertBytesEqualWhen(api frontend.API, flag frontend.Variable, got, want []frontend.Variable) {
	for i := range got {
		api.AssertIsEqual(api.Mul(flag, api.Sub(got[i], want[i])), 0)
	}
}
