package bitcoinvm

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/consensys/gnark/logger"
	"golang.org/x/sync/errgroup"

	"github.com/zkpor/bitcoinvm/gadget"
	"github.com/zkpor/bitcoinvm/interp"
	"github.com/zkpor/bitcoinvm/obligation"
	"github.com/zkpor/bitcoinvm/script"
)

// Signer produces DER signatures over the sighash for public keys it holds.
// Keys are identified by their serialized bytes as pushed in the script,
// compressed or uncompressed.
type Signer interface {
	Holds(pubKey []byte) bool
	Sign(pubKey []byte, sighash [32]byte) ([]byte, error)
}

// KeyRing is an in-memory Signer over btcec private keys.
type KeyRing struct {
	keys map[string]*btcec.PrivateKey
}

// NewKeyRing builds a ring holding the given private keys.
func NewKeyRing(keys ...*btcec.PrivateKey) *KeyRing {
	r := &KeyRing{keys: make(map[string]*btcec.PrivateKey)}
	for _, k := range keys {
		r.Add(k)
	}
	return r
}

// Add registers a private key under both serializations of its public key.
func (r *KeyRing) Add(priv *btcec.PrivateKey) {
	pub := priv.PubKey()
	r.keys[string(pub.SerializeCompressed())] = priv
	r.keys[string(pub.SerializeUncompressed())] = priv
}

// Holds reports whether the ring can sign for the serialized public key.
func (r *KeyRing) Holds(pubKey []byte) bool {
	_, ok := r.keys[string(pubKey)]
	return ok
}

// Sign produces a DER signature over sighash with the key's private half.
func (r *KeyRing) Sign(pubKey []byte, sighash [32]byte) ([]byte, error) {
	priv, ok := r.keys[string(pubKey)]
	if !ok {
		return nil, fmt.Errorf("bitcoinvm: key ring does not hold %s", hex.EncodeToString(pubKey))
	}
	return btcecdsa.Sign(priv, sighash[:]).Serialize(), nil
}

// StaticSigner serves pre-made DER signatures, keyed by the hex of the
// serialized public key. It lets externally produced signatures (hardware
// wallets, co-signers) flow through the same pipeline as ring-held keys.
type StaticSigner map[string][]byte

func (s StaticSigner) Holds(pubKey []byte) bool {
	_, ok := s[hex.EncodeToString(pubKey)]
	return ok
}

func (s StaticSigner) Sign(pubKey []byte, _ [32]byte) ([]byte, error) {
	der, ok := s[hex.EncodeToString(pubKey)]
	if !ok {
		return nil, fmt.Errorf("bitcoinvm: no signature for %s", hex.EncodeToString(pubKey))
	}
	return der, nil
}

// sigTuple is one verified signature ready for circuit assignment.
type sigTuple struct {
	pub  *btcec.PublicKey
	r, s *big.Int
	ok   bool
}

// Instance carries one spend through the construction pipeline: decode the
// scripts, simulate execution, accumulate obligations, discharge the
// selected ones, and finally assemble a circuit witness. The pipeline is
// strictly forward; any failure leaves the instance pinned at the failing
// stage with a ConstructionError.
type Instance struct {
	params    Params
	mode      script.WrapMode
	locking   []byte
	effective []byte
	program   *script.Program
	witness   []interp.Element
	sighash   [32]byte

	trace *interp.Trace
	set   *obligation.Set
	sel   *obligation.Selection

	sigs  []sigTuple
	msigs [][]sigTuple

	stage Stage
}

// NewInstance runs the full pipeline for one spend. signer resolves
// signatures for the keys the spend claims; a nil signer claims no
// signature outcomes.
func NewInstance(p Params, locking, embedded []byte, witness [][]byte, sighash [32]byte, signer Signer) (*Instance, error) {
	log := logger.Logger().With().Str("component", "bitcoinvm").Logger()

	inst := &Instance{params: p, sighash: sighash}

	// Decoding.
	if err := p.Validate(); err != nil {
		return inst, stageErr(StageDecoding, err)
	}
	if len(locking) > p.MaxScriptLen {
		return inst, stageErr(StageDecoding, fmt.Errorf("locking script is %d bytes, bound %d", len(locking), p.MaxScriptLen))
	}
	mode, eff, err := script.DeriveEffective(locking, embedded)
	if err != nil {
		return inst, stageErr(StageDecoding, err)
	}
	prog, err := script.Decode(eff, p.MaxScriptLen, p.MaxPushLen)
	if err != nil {
		return inst, stageErr(StageDecoding, err)
	}
	inst.mode, inst.locking, inst.effective, inst.program = mode, append([]byte(nil), locking...), eff, prog
	inst.witness = make([]interp.Element, len(witness))
	for t, w := range witness {
		inst.witness[t] = interp.NewElement(w)
	}
	inst.stage = StageSimulating
	log.Debug().Stringer("mode", mode).Int("script_len", len(eff)).Msg("decoded spend")

	// Simulating.
	tr, err := interp.Run(prog, inst.witness, p.Limits(), outcomeFunc(signer))
	if err != nil {
		return inst, stageErr(StageSimulating, err)
	}
	if tr.Fault != nil {
		return inst, stageErr(StageSimulating, fmt.Errorf("%s", tr.Fault))
	}
	inst.trace = tr
	inst.stage = StageAccumulating

	// Accumulating.
	set, err := obligation.Accumulate(tr, p.Capacities())
	if err != nil {
		return inst, stageErr(StageAccumulating, err)
	}
	for _, kind := range []script.Kind{script.KindHash160, script.KindSha256} {
		for k, rec := range set.OfKind(kind) {
			if len(rec.Input) > p.MaxPreimageLen {
				return inst, stageErr(StageAccumulating,
					fmt.Errorf("%s slot %d: preimage is %d bytes, bound %d", kind, k, len(rec.Input), p.MaxPreimageLen))
			}
		}
	}
	sel := obligation.FromOutcomes(set)
	for k, rec := range set.CheckMultisig {
		if !sel.CheckMultisig[k] {
			continue
		}
		sel.KeyUse[k] = chooseKeys(rec, signer)
	}
	if err := obligation.Validate(sel, set, tr); err != nil {
		return inst, stageErr(StageAccumulating, err)
	}
	inst.set, inst.sel = set, sel
	inst.stage = StageDischarging
	log.Debug().
		Int("checksig", set.ActiveCount(script.KindCheckSig)).
		Int("multisig", set.ActiveCount(script.KindCheckMultisig)).
		Int("hash160", set.ActiveCount(script.KindHash160)).
		Int("sha256", set.ActiveCount(script.KindSha256)).
		Msg("accumulated obligations")

	// Discharging. Signature slots resolve independently, so they run in
	// parallel; hash slots are checked inline.
	inst.sigs = make([]sigTuple, len(set.CheckSig))
	inst.msigs = make([][]sigTuple, len(set.CheckMultisig))
	var g errgroup.Group
	for k := range set.CheckSig {
		if !sel.CheckSig[k] {
			continue
		}
		k := k
		g.Go(func() error {
			t, err := resolveSignature(signer, set.CheckSig[k].Key, sighash, "checksig", k)
			if err != nil {
				return err
			}
			inst.sigs[k] = *t
			return nil
		})
	}
	for k := range set.CheckMultisig {
		rec := set.CheckMultisig[k]
		inst.msigs[k] = make([]sigTuple, len(rec.Keys))
		if !sel.CheckMultisig[k] {
			continue
		}
		for t := range rec.Keys {
			if !sel.KeyUse[k][t] {
				continue
			}
			k, t := k, t
			g.Go(func() error {
				tup, err := resolveSignature(signer, rec.Keys[t], sighash, "checkmultisig", k)
				if err != nil {
					return err
				}
				inst.msigs[k][t] = *tup
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return inst, stageErr(StageDischarging, err)
	}
	for k, rec := range set.Hash160 {
		if rec.Reachable && !bytes.Equal(btcutil.Hash160(rec.Input), rec.Digest) {
			return inst, stageErr(StageDischarging, &GadgetError{Kind: "hash160", Slot: k, Reason: "preimage does not hash to digest"})
		}
	}
	for k, rec := range set.Sha256 {
		if rec.Reachable {
			sum := sha256.Sum256(rec.Input)
			if !bytes.Equal(sum[:], rec.Digest) {
				return inst, stageErr(StageDischarging, &GadgetError{Kind: "sha256", Slot: k, Reason: "preimage does not hash to digest"})
			}
		}
	}

	inst.stage = StageAssembled
	log.Debug().Msg("instance assembled")
	return inst, nil
}

// outcomeFunc claims signature success exactly where signer can discharge.
func outcomeFunc(signer Signer) interp.OutcomeFunc {
	return func(ev *interp.Event) bool {
		if signer == nil {
			return false
		}
		switch ev.Kind {
		case script.KindCheckSig:
			return signer.Holds(ev.Key.Bytes())
		case script.KindCheckMultisig:
			held := 0
			for _, key := range ev.Keys {
				if signer.Holds(key.Bytes()) {
					held++
				}
			}
			return held >= ev.M
		}
		return true
	}
}

// chooseKeys marks the first m held keys of a selected multisig slot.
func chooseKeys(rec obligation.Record, signer Signer) []bool {
	use := make([]bool, len(rec.Keys))
	picked := 0
	for t := 0; t < rec.N && t < len(rec.Keys) && picked < rec.M; t++ {
		if signer != nil && signer.Holds(rec.Keys[t]) {
			use[t] = true
			picked++
		}
	}
	return use
}

// resolveSignature obtains a signature for key, verifies it on the host,
// and splits it into the scalar pair the circuit consumes. A signature
// that fails host verification would make the constraint system unsolvable,
// so it is rejected here as a GadgetError.
func resolveSignature(signer Signer, key []byte, sighash [32]byte, kind string, slot int) (*sigTuple, error) {
	if signer == nil {
		return nil, &GadgetError{Kind: kind, Slot: slot, Reason: "no signer for selected slot"}
	}
	pub, err := btcec.ParsePubKey(key)
	if err != nil {
		return nil, &GadgetError{Kind: kind, Slot: slot, Reason: fmt.Sprintf("bad public key: %v", err)}
	}
	der, err := signer.Sign(key, sighash)
	if err != nil {
		return nil, &GadgetError{Kind: kind, Slot: slot, Reason: err.Error()}
	}
	sig, err := btcecdsa.ParseDERSignature(der)
	if err != nil {
		return nil, &GadgetError{Kind: kind, Slot: slot, Reason: fmt.Sprintf("bad DER signature: %v", err)}
	}
	if !sig.Verify(sighash[:], pub) {
		return nil, &GadgetError{Kind: kind, Slot: slot, Reason: "signature does not verify"}
	}
	r, s, err := gadget.ParseDERSignature(der)
	if err != nil {
		return nil, &GadgetError{Kind: kind, Slot: slot, Reason: err.Error()}
	}
	return &sigTuple{pub: pub, r: r, s: s, ok: true}, nil
}

// Stage reports how far the pipeline got.
func (i *Instance) Stage() Stage { return i.stage }

// Mode reports the wrap mode the locking script resolved to.
func (i *Instance) Mode() script.WrapMode { return i.mode }

// Effective returns the script the machine executed.
func (i *Instance) Effective() []byte { return append([]byte(nil), i.effective...) }

// Trace returns the simulation trace.
func (i *Instance) Trace() *interp.Trace { return i.trace }

// Obligations returns the accumulated slot set.
func (i *Instance) Obligations() *obligation.Set { return i.set }

// Commitment returns the public script commitment for this spend.
func (i *Instance) Commitment() [32]byte {
	return ComputeCommitment(i.params, i.locking)
}

// ComputeCommitment hashes the locking script the way the circuit opens it:
// SHA-256 over the script zero-padded to MaxScriptLen followed by its
// length as eight little-endian bytes.
func ComputeCommitment(p Params, locking []byte) [32]byte {
	buf := make([]byte, p.MaxScriptLen+8)
	copy(buf, locking)
	binary.LittleEndian.PutUint64(buf[p.MaxScriptLen:], uint64(len(locking)))
	return sha256.Sum256(buf)
}

// Assignment builds the full circuit witness for an assembled instance.
func (i *Instance) Assignment() (*Circuit, error) {
	if i.stage != StageAssembled {
		return nil, fmt.Errorf("bitcoinvm: instance stopped at stage %s, cannot assign", i.stage)
	}
	c, err := NewCircuit(i.params)
	if err != nil {
		return nil, err
	}

	commit := i.Commitment()
	for j := 0; j < 32; j++ {
		c.Commitment[j] = commit[j]
		c.Sighash[j] = i.sighash[j]
	}

	for j := range c.LockingBytes {
		if j < len(i.locking) {
			c.LockingBytes[j] = i.locking[j]
		} else {
			c.LockingBytes[j] = 0
		}
	}
	c.LockingLen = len(i.locking)
	for j := range c.EffBytes {
		if j < len(i.effective) {
			c.EffBytes[j] = i.effective[j]
		} else {
			c.EffBytes[j] = 0
		}
	}
	c.EffLen = len(i.effective)

	for m := range c.Mode {
		c.Mode[m] = 0
	}
	c.Mode[i.mode] = 1

	for t := range c.WitBytes {
		var elem []byte
		if t < len(i.witness) {
			elem = i.witness[t].Bytes()
		}
		for j := range c.WitBytes[t] {
			if j < len(elem) {
				c.WitBytes[t][j] = elem[j]
			} else {
				c.WitBytes[t][j] = 0
			}
		}
		c.WitLens[t] = len(elem)
	}
	c.WitCount = len(i.witness)

	for k := range i.set.CheckSig {
		rec := i.set.CheckSig[k]
		rec.AssignCheckSig(&c.CheckSig[k], i.sel.CheckSig[k])
		if tup := i.sigs[k]; tup.ok {
			c.SigWitness[k] = gadget.NewCheckSigWitness(tup.pub, tup.r, tup.s)
		} else {
			c.SigWitness[k] = gadget.DummyCheckSigWitness()
		}
	}
	for k := range i.set.CheckMultisig {
		rec := i.set.CheckMultisig[k]
		rec.AssignMultisig(&c.CheckMultisig[k], i.sel.CheckMultisig[k], i.sel.KeyUse[k])
		for t := range c.MultisigWitness[k].Keys {
			if t < len(i.msigs[k]) && i.msigs[k][t].ok {
				tup := i.msigs[k][t]
				c.MultisigWitness[k].Keys[t] = gadget.NewCheckSigWitness(tup.pub, tup.r, tup.s)
			} else {
				c.MultisigWitness[k].Keys[t] = gadget.DummyCheckSigWitness()
			}
		}
	}
	for k := range i.set.Hash160 {
		rec := i.set.Hash160[k]
		rec.AssignHash(&c.Hash160[k])
	}
	for k := range i.set.Sha256 {
		rec := i.set.Sha256[k]
		rec.AssignHash(&c.Sha256[k])
	}
	return c, nil
}
