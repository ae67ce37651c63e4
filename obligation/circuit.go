package obligation

import (
	"github.com/consensys/gnark/frontend"

	"github.com/zkpor/bitcoinvm/interp"
)

// KeyWidth is the slot byte width for public-key operands: room for an
// uncompressed 65-byte key.
const KeyWidth = 65

// CheckSigSlot is the circuit rendering of one CheckSig obligation. Selected
// is both the prover's discharge selection and the claimed outcome the
// machine sees: claiming success requires selecting (and discharging) the
// slot, while claiming failure costs nothing because it only makes the
// prover's own script evaluate false.
type CheckSigSlot struct {
	Active    frontend.Variable
	Reachable frontend.Variable
	Selected  frontend.Variable
	Position  frontend.Variable
	Key       []frontend.Variable
	KeyLen    frontend.Variable
}

// MultisigSlot is the circuit rendering of one CheckMultisig obligation.
// KeyUse marks which of the N keys carry signatures; a selected slot uses
// exactly M of them.
type MultisigSlot struct {
	Active    frontend.Variable
	Reachable frontend.Variable
	Selected  frontend.Variable
	Position  frontend.Variable
	M, N      frontend.Variable
	Keys      [][]frontend.Variable
	KeyLens   []frontend.Variable
	KeyUse    []frontend.Variable
}

// HashSlot is the circuit rendering of one Hash160 or Sha256 obligation.
// Digest is a witness hint: the discharge gadget recomputes the hash and
// pins it, so the machine can treat the digest as the opcode's pushed value.
// Hash slots have no selection bit; every active, reachable slot is
// discharged.
type HashSlot struct {
	Active    frontend.Variable
	Reachable frontend.Variable
	Position  frontend.Variable
	Input     []frontend.Variable
	InputLen  frontend.Variable
	Digest    []frontend.Variable
}

// NewCheckSigSlot allocates a zeroed slot of fixed shape.
func NewCheckSigSlot() CheckSigSlot {
	return CheckSigSlot{Key: zeroVars(KeyWidth)}
}

// NewMultisigSlot allocates a zeroed slot holding up to maxKeys keys.
func NewMultisigSlot(maxKeys int) MultisigSlot {
	s := MultisigSlot{
		Keys:    make([][]frontend.Variable, maxKeys),
		KeyLens: zeroVars(maxKeys),
		KeyUse:  zeroVars(maxKeys),
	}
	for t := range s.Keys {
		s.Keys[t] = zeroVars(KeyWidth)
	}
	return s
}

// NewHashSlot allocates a zeroed slot for preimages up to preimageWidth
// bytes and a digestWidth-byte digest (20 for Hash160, 32 for Sha256).
func NewHashSlot(preimageWidth, digestWidth int) HashSlot {
	return HashSlot{Input: zeroVars(preimageWidth), Digest: zeroVars(digestWidth)}
}

func zeroVars(n int) []frontend.Variable {
	vs := make([]frontend.Variable, n)
	for i := range vs {
		vs[i] = 0
	}
	return vs
}

// Feeds builds the per-ordinal values the script machine taps when a crypto
// instruction produces a result. Slot ordinals equal event ordinals, so the
// k-th feed is simply the k-th slot's claimed outcome or folded digest.
func Feeds(api frontend.API, r frontend.Variable, cs []CheckSigSlot, ms []MultisigSlot, h160, sha []HashSlot) interp.CryptoFeeds {
	feeds := interp.CryptoFeeds{
		CheckSigOutcome: make([]frontend.Variable, len(cs)),
		MultisigOutcome: make([]frontend.Variable, len(ms)),
		Hash160Digest:   make([]frontend.Variable, len(h160)),
		Sha256Digest:    make([]frontend.Variable, len(sha)),
	}
	for k := range cs {
		feeds.CheckSigOutcome[k] = cs[k].Selected
	}
	for k := range ms {
		feeds.MultisigOutcome[k] = ms[k].Selected
	}
	for k := range h160 {
		feeds.Hash160Digest[k] = interp.FoldBytesFixed(api, r, h160[k].Digest)
	}
	for k := range sha {
		feeds.Sha256Digest[k] = interp.FoldBytesFixed(api, r, sha[k].Digest)
	}
	return feeds
}

// Constrain ties the slot lists to one machine run. Per kind it refolds each
// active slot's operands into an event pack and absorbs it into a slot-side
// transcript; equality with the machine-side transcript forces the slots to
// carry exactly the machine's events, in order, with matching operands,
// positions and reachability. On top of that it enforces the structural slot
// rules: boolean flags, byte-ranged operands, sentinel prefix shape,
// selection only of reachable active slots, and the multisig key-use shape.
func Constrain(api frontend.API, r frontend.Variable, res *interp.MachineResult, cs []CheckSigSlot, ms []MultisigSlot, h160, sha []HashSlot) {
	csT := interp.NewTranscript()
	for k := range cs {
		s := &cs[k]
		constrainFlags(api, s.Active, s.Reachable, s.Selected)
		for j := range s.Key {
			api.ToBinary(s.Key[j], 8)
		}
		if k > 0 {
			api.AssertIsEqual(api.Mul(s.Active, api.Sub(1, cs[k-1].Active)), 0)
		}
		keyRlc := interp.FoldBytes(api, r, s.Key, s.KeyLen)
		fields := [interp.PackWidth]frontend.Variable{
			s.Position,
			s.Reachable,
			api.Mul(s.Reachable, keyRlc),
			api.Mul(s.Reachable, s.KeyLen),
			0, 0, 0, 0, 0, 0, 0, 0,
		}
		csT.Append(api, res.Band, s.Active, interp.PackEvent(api, res.SPow[:], fields))
	}
	csT.AssertEqual(api, res.CheckSig)

	msT := interp.NewTranscript()
	for k := range ms {
		s := &ms[k]
		constrainFlags(api, s.Active, s.Reachable, s.Selected)
		for t := range s.Keys {
			for j := range s.Keys[t] {
				api.ToBinary(s.Keys[t][j], 8)
			}
		}
		if k > 0 {
			api.AssertIsEqual(api.Mul(s.Active, api.Sub(1, ms[k-1].Active)), 0)
		}
		maxKeys := len(s.Keys)
		keyRlc := make([]frontend.Variable, 3)
		keyLen := make([]frontend.Variable, 3)
		for t := 0; t < 3; t++ {
			if t < maxKeys {
				keyRlc[t] = interp.FoldBytes(api, r, s.Keys[t], s.KeyLens[t])
				keyLen[t] = s.KeyLens[t]
			} else {
				keyRlc[t], keyLen[t] = 0, 0
			}
		}
		fields := [interp.PackWidth]frontend.Variable{
			s.Position,
			s.Reachable,
			api.Mul(s.Reachable, keyRlc[0]),
			api.Mul(s.Reachable, keyLen[0]),
			api.Mul(s.Reachable, keyRlc[1]),
			api.Mul(s.Reachable, keyLen[1]),
			api.Mul(s.Reachable, keyRlc[2]),
			api.Mul(s.Reachable, keyLen[2]),
			api.Mul(s.Reachable, s.M),
			api.Mul(s.Reachable, s.N),
			0, 0,
		}
		msT.Append(api, res.Band, s.Active, interp.PackEvent(api, res.SPow[:], fields))

		// Key-use shape: exactly M keys on a selected slot, none beyond N,
		// none on an unselected slot.
		useSum := frontend.Variable(0)
		for t, u := range s.KeyUse {
			api.AssertIsBoolean(u)
			useSum = api.Add(useSum, u)
			inRange := frontend.Variable(0)
			for n := t + 1; n <= maxKeys; n++ {
				inRange = api.Add(inRange, api.IsZero(api.Sub(s.N, n)))
			}
			api.AssertIsEqual(api.Mul(u, api.Sub(1, inRange)), 0)
		}
		api.AssertIsEqual(useSum, api.Mul(s.M, s.Selected))
	}
	msT.AssertEqual(api, res.CheckMultisig)

	hT := interp.NewTranscript()
	for k := range h160 {
		constrainHashSlot(api, &h160[k])
		if k > 0 {
			api.AssertIsEqual(api.Mul(h160[k].Active, api.Sub(1, h160[k-1].Active)), 0)
		}
		hT.Append(api, res.Band, h160[k].Active, hashPack(api, r, res, &h160[k]))
	}
	hT.AssertEqual(api, res.Hash160)

	sT := interp.NewTranscript()
	for k := range sha {
		constrainHashSlot(api, &sha[k])
		if k > 0 {
			api.AssertIsEqual(api.Mul(sha[k].Active, api.Sub(1, sha[k-1].Active)), 0)
		}
		sT.Append(api, res.Band, sha[k].Active, hashPack(api, r, res, &sha[k]))
	}
	sT.AssertEqual(api, res.Sha256)
}

func constrainFlags(api frontend.API, active, reachable, selected frontend.Variable) {
	api.AssertIsBoolean(active)
	api.AssertIsBoolean(reachable)
	api.AssertIsBoolean(selected)
	api.AssertIsEqual(api.Mul(api.Sub(1, active), reachable), 0)
	api.AssertIsEqual(api.Mul(selected, api.Sub(1, reachable)), 0)
}

func constrainHashSlot(api frontend.API, s *HashSlot) {
	api.AssertIsBoolean(s.Active)
	api.AssertIsBoolean(s.Reachable)
	api.AssertIsEqual(api.Mul(api.Sub(1, s.Active), s.Reachable), 0)
	for j := range s.Input {
		api.ToBinary(s.Input[j], 8)
	}
	for j := range s.Digest {
		api.ToBinary(s.Digest[j], 8)
	}
}

func hashPack(api frontend.API, r frontend.Variable, res *interp.MachineResult, s *HashSlot) frontend.Variable {
	inRlc := interp.FoldBytes(api, r, s.Input, s.InputLen)
	fields := [interp.PackWidth]frontend.Variable{
		s.Position,
		s.Reachable,
		0, 0, 0, 0, 0, 0, 0, 0,
		api.Mul(s.Reachable, inRlc),
		api.Mul(s.Reachable, s.InputLen),
	}
	return interp.PackEvent(api, res.SPow[:], fields)
}
