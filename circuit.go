package bitcoinvm

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/math/cmp"

	"github.com/zkpor/bitcoinvm/gadget"
	"github.com/zkpor/bitcoinvm/interp"
	"github.com/zkpor/bitcoinvm/obligation"
	"github.com/zkpor/bitcoinvm/script"
)

// Circuit proves that a spender holds witnesses satisfying a committed
// locking script. The public inputs are the script commitment and the
// transaction sighash; everything else, including the script bytes, the
// witness stack, and which obligations were discharged, stays private.
//
// The statement decomposes into four cooperating constraint groups:
// the commitment opening, the wrap-mode binding of the effective script,
// the stack machine run, and the obligation slot discharges. The machine
// and the slots meet only through the per-kind event transcripts, folded
// under an in-circuit challenge derived from all committed values.
type Circuit struct {
	// Commitment is the SHA-256 opening target for the locking script.
	Commitment [32]frontend.Variable `gnark:",public"`
	// Sighash is the 32-byte transaction digest signatures are checked
	// against.
	Sighash [32]frontend.Variable `gnark:",public"`

	// Locking script as committed, zero-padded to MaxScriptLen.
	LockingBytes []frontend.Variable
	LockingLen   frontend.Variable

	// Effective script the machine executes, bound to the locking script
	// by the wrap mode.
	EffBytes []frontend.Variable
	EffLen   frontend.Variable

	// Wrap-mode one-hot selector, indexed by script.WrapMode.
	Mode [4]frontend.Variable

	// Initial stack.
	WitBytes [][]frontend.Variable
	WitLens  []frontend.Variable
	WitCount frontend.Variable

	// Obligation slots, one list per kind, padded to capacity.
	CheckSig      []obligation.CheckSigSlot
	CheckMultisig []obligation.MultisigSlot
	Hash160       []obligation.HashSlot
	Sha256        []obligation.HashSlot

	// Signature material for the discharge gadgets. Unselected slots carry
	// the fixed dummy tuple.
	SigWitness      []gadget.CheckSigWitness
	MultisigWitness []gadget.MultisigWitness

	params Params
}

// NewCircuit allocates a circuit skeleton with the geometry of p. The same
// skeleton serves both compilation and witness assignment.
func NewCircuit(p Params) (*Circuit, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c := &Circuit{
		LockingBytes: make([]frontend.Variable, p.MaxScriptLen),
		EffBytes:     make([]frontend.Variable, p.MaxScriptLen),
		WitBytes:     make([][]frontend.Variable, p.MaxWitnessElems),
		WitLens:      make([]frontend.Variable, p.MaxWitnessElems),

		CheckSig:      make([]obligation.CheckSigSlot, p.KCheckSig),
		CheckMultisig: make([]obligation.MultisigSlot, p.KCheckMultisig),
		Hash160:       make([]obligation.HashSlot, p.KHash160),
		Sha256:        make([]obligation.HashSlot, p.KSha256),

		SigWitness:      make([]gadget.CheckSigWitness, p.KCheckSig),
		MultisigWitness: make([]gadget.MultisigWitness, p.KCheckMultisig),

		params: p,
	}
	for t := range c.WitBytes {
		c.WitBytes[t] = make([]frontend.Variable, p.MaxWitnessElemLen)
	}
	for k := range c.CheckSig {
		c.CheckSig[k] = obligation.NewCheckSigSlot()
		c.SigWitness[k] = gadget.DummyCheckSigWitness()
	}
	for k := range c.CheckMultisig {
		c.CheckMultisig[k] = obligation.NewMultisigSlot(p.MaxMultisigKeys)
		c.MultisigWitness[k] = gadget.NewMultisigWitness(p.MaxMultisigKeys)
		for t := range c.MultisigWitness[k].Keys {
			c.MultisigWitness[k].Keys[t] = gadget.DummyCheckSigWitness()
		}
	}
	for k := range c.Hash160 {
		c.Hash160[k] = obligation.NewHashSlot(p.MaxPreimageLen, 20)
	}
	for k := range c.Sha256 {
		c.Sha256[k] = obligation.NewHashSlot(p.MaxPreimageLen, 32)
	}
	return c, nil
}

// Params reports the geometry the circuit was allocated with.
func (c *Circuit) Params() Params { return c.params }

// Define lays down the full constraint system.
func (c *Circuit) Define(api frontend.API) error {
	p := c.params

	for i := range c.Commitment {
		api.ToBinary(c.Commitment[i], 8)
		api.ToBinary(c.Sighash[i], 8)
	}

	c.constrainLockingBytes(api)
	if err := c.openCommitment(api); err != nil {
		return err
	}
	if err := c.bindWrapMode(api); err != nil {
		return err
	}

	// The byte challenge must depend on every value the transcripts fold,
	// so all machine inputs and slot contents are committed. The stream
	// challenge comes from a second commitment over the first, keeping the
	// pack monomials free of algebraic relations with the byte folds.
	committer, ok := api.(frontend.Committer)
	if !ok {
		return fmt.Errorf("builder does not support commitments")
	}
	r, err := committer.Commit(c.committedVars()...)
	if err != nil {
		return err
	}
	s, err := committer.Commit(r)
	if err != nil {
		return err
	}
	feeds := obligation.Feeds(api, r, c.CheckSig, c.CheckMultisig, c.Hash160, c.Sha256)
	res, err := interp.RunMachine(api, p.MachineParams(), c.EffBytes, c.EffLen, c.WitBytes, c.WitLens, c.WitCount, feeds, r, s)
	if err != nil {
		return err
	}
	obligation.Constrain(api, r, res, c.CheckSig, c.CheckMultisig, c.Hash160, c.Sha256)
	api.AssertIsEqual(res.Accepted, 1)

	sighash := c.Sighash[:]
	for k := range c.CheckSig {
		if err := gadget.DischargeCheckSig(api, &c.CheckSig[k], &c.SigWitness[k], sighash); err != nil {
			return err
		}
	}
	for k := range c.CheckMultisig {
		if err := gadget.DischargeMultisig(api, &c.CheckMultisig[k], &c.MultisigWitness[k], sighash); err != nil {
			return err
		}
	}
	for k := range c.Hash160 {
		if err := gadget.DischargeHash160(api, &c.Hash160[k]); err != nil {
			return err
		}
	}
	for k := range c.Sha256 {
		if err := gadget.DischargeSha256(api, &c.Sha256[k]); err != nil {
			return err
		}
	}
	return nil
}

// constrainLockingBytes range-checks the locking script buffer and pins
// bytes at and past LockingLen to zero, so the padded buffer encodes the
// script injectively.
func (c *Circuit) constrainLockingBytes(api frontend.API) {
	api.AssertIsEqual(cmp.IsLessOrEqual(api, c.LockingLen, len(c.LockingBytes)), 1)
	flag := api.Sub(1, api.IsZero(c.LockingLen))
	for j := range c.LockingBytes {
		if j > 0 {
			flag = api.Mul(flag, api.Sub(1, api.IsZero(api.Sub(c.LockingLen, j))))
		}
		api.ToBinary(c.LockingBytes[j], 8)
		api.AssertIsEqual(api.Mul(api.Sub(1, flag), c.LockingBytes[j]), 0)
	}
}

// openCommitment asserts Commitment = SHA-256 of the zero-padded script
// buffer followed by the length as eight little-endian bytes. Zero padding
// past LockingLen makes the encoding injective.
func (c *Circuit) openCommitment(api frontend.API) error {
	buf := make([]frontend.Variable, 0, len(c.LockingBytes)+8)
	buf = append(buf, c.LockingBytes...)
	lenBits := api.ToBinary(c.LockingLen, 64)
	for k := 0; k < 8; k++ {
		buf = append(buf, api.FromBinary(lenBits[8*k:8*k+8]...))
	}
	digest, err := gadget.Sha256Fixed(api, buf)
	if err != nil {
		return err
	}
	for i := range digest {
		api.AssertIsEqual(digest[i], c.Commitment[i])
	}
	return nil
}

// bindWrapMode ties the effective script to the locking script under the
// one-hot mode selector. Both hashes of the effective script are computed
// unconditionally so the circuit shape is mode-independent; only the
// equality constraints are gated.
func (c *Circuit) bindWrapMode(api frontend.API) error {
	modeSum := frontend.Variable(0)
	for _, m := range c.Mode {
		api.AssertIsBoolean(m)
		modeSum = api.Add(modeSum, m)
	}
	api.AssertIsEqual(modeSum, 1)

	h160, err := gadget.Hash160Bytes(api, c.EffBytes, c.EffLen)
	if err != nil {
		return err
	}
	sha, err := gadget.Sha256Bytes(api, c.EffBytes, c.EffLen)
	if err != nil {
		return err
	}

	eqWhen := func(m, a, b frontend.Variable) {
		api.AssertIsEqual(api.Mul(m, api.Sub(a, b)), 0)
	}

	// Direct execution: the effective script is the locking script.
	mNone := c.Mode[script.WrapNone]
	eqWhen(mNone, c.EffLen, c.LockingLen)
	for j := range c.EffBytes {
		eqWhen(mNone, c.EffBytes[j], c.LockingBytes[j])
	}

	// Script hash: locking is OP_HASH160 <20-byte hash> OP_EQUAL and the
	// hash opens to the effective script.
	mP2SH := c.Mode[script.WrapP2SH]
	eqWhen(mP2SH, c.LockingLen, 23)
	eqWhen(mP2SH, c.LockingBytes[0], script.OP_HASH160)
	eqWhen(mP2SH, c.LockingBytes[1], script.OP_DATA_20)
	for i := 0; i < 20; i++ {
		eqWhen(mP2SH, c.LockingBytes[2+i], h160[i])
	}
	eqWhen(mP2SH, c.LockingBytes[22], script.OP_EQUAL)

	// Witness key hash: locking is OP_0 <20-byte hash> and the effective
	// script is the fixed pay-to-key-hash template over that hash.
	mWPKH := c.Mode[script.WrapP2WPKH]
	eqWhen(mWPKH, c.LockingLen, 22)
	eqWhen(mWPKH, c.LockingBytes[0], script.OP_0)
	eqWhen(mWPKH, c.LockingBytes[1], script.OP_DATA_20)
	eqWhen(mWPKH, c.EffLen, 25)
	eqWhen(mWPKH, c.EffBytes[0], script.OP_DUP)
	eqWhen(mWPKH, c.EffBytes[1], script.OP_HASH160)
	eqWhen(mWPKH, c.EffBytes[2], script.OP_DATA_20)
	for i := 0; i < 20; i++ {
		eqWhen(mWPKH, c.EffBytes[3+i], c.LockingBytes[2+i])
	}
	eqWhen(mWPKH, c.EffBytes[23], script.OP_EQUALVERIFY)
	eqWhen(mWPKH, c.EffBytes[24], script.OP_CHECKSIG)

	// Witness script hash: locking is OP_0 <32-byte hash> and the hash
	// opens to the effective script under single SHA-256.
	mWSH := c.Mode[script.WrapP2WSH]
	eqWhen(mWSH, c.LockingLen, 34)
	eqWhen(mWSH, c.LockingBytes[0], script.OP_0)
	eqWhen(mWSH, c.LockingBytes[1], script.OP_DATA_32)
	for i := 0; i < 32; i++ {
		eqWhen(mWSH, c.LockingBytes[2+i], sha[i])
	}

	return nil
}

// committedVars collects every private value the stream challenge must be
// bound to.
func (c *Circuit) committedVars() []frontend.Variable {
	var vs []frontend.Variable
	vs = append(vs, c.EffBytes...)
	vs = append(vs, c.EffLen)
	for t := range c.WitBytes {
		vs = append(vs, c.WitBytes[t]...)
		vs = append(vs, c.WitLens[t])
	}
	vs = append(vs, c.WitCount)
	for k := range c.CheckSig {
		s := &c.CheckSig[k]
		vs = append(vs, s.Active, s.Reachable, s.Selected, s.Position, s.KeyLen)
		vs = append(vs, s.Key...)
	}
	for k := range c.CheckMultisig {
		s := &c.CheckMultisig[k]
		vs = append(vs, s.Active, s.Reachable, s.Selected, s.Position, s.M, s.N)
		for t := range s.Keys {
			vs = append(vs, s.Keys[t]...)
			vs = append(vs, s.KeyLens[t], s.KeyUse[t])
		}
	}
	for _, list := range [][]obligation.HashSlot{c.Hash160, c.Sha256} {
		for k := range list {
			s := &list[k]
			vs = append(vs, s.Active, s.Reachable, s.Position, s.InputLen)
			vs = append(vs, s.Input...)
			vs = append(vs, s.Digest...)
		}
	}
	return vs
}
