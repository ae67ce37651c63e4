package interp

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/math/cmp"

	"github.com/zkpor/bitcoinvm/script"
)

// Pair is a stack cell in the arithmetic rendering: the fold of the
// element's bytes under the byte challenge, most significant byte first,
// and the element's byte length. The empty element is (0, 0), a pushed
// true is (1, 1), so boolean results are their own encoding.
type Pair struct {
	Rlc frontend.Variable
	Len frontend.Variable
}

func zeroPair() Pair { return Pair{Rlc: 0, Len: 0} }

// MachineParams fix the geometry of the transition system. They must match
// the Limits the host simulation ran under.
type MachineParams struct {
	ScriptLen      int // rows, one per script byte
	StackDepth     int
	WitnessElems   int
	WitnessElemLen int
	MultisigKeys   int
}

// CryptoFeeds are the per-slot values the machine taps when a signature or
// hash instruction produces a result: claimed outcomes for the signature
// kinds and folded digests for the hash kinds, indexed by event ordinal.
// The transcript equations tie each ordinal back to the slot feeding it.
type CryptoFeeds struct {
	CheckSigOutcome []frontend.Variable
	MultisigOutcome []frontend.Variable
	Hash160Digest   []frontend.Variable
	Sha256Digest    []frontend.Variable
}

// PackWidth is the number of fields in an event pack: position, reachable,
// three key cells, the multisig shape, and the hash input cell.
const PackWidth = 12

// Transcript is the running fold of one obligation kind's event stream.
// Two streams folded under the same challenge agree exactly when they
// carry the same events in the same order.
type Transcript struct {
	Count frontend.Variable
	Acc   frontend.Variable
}

// NewTranscript returns an empty stream.
func NewTranscript() Transcript {
	return Transcript{Count: 0, Acc: 0}
}

// Append absorbs pack when flag is set. band must be the PackWidth-th
// power of the stream challenge.
func (t *Transcript) Append(api frontend.API, band, flag, pack frontend.Variable) {
	t.Acc = api.Select(flag, api.Add(api.Mul(t.Acc, band), pack), t.Acc)
	t.Count = api.Add(t.Count, flag)
}

// AssertEqual pins two streams to each other.
func (t *Transcript) AssertEqual(api frontend.API, o Transcript) {
	api.AssertIsEqual(t.Count, o.Count)
	api.AssertIsEqual(t.Acc, o.Acc)
}

// PackEvent folds one event's fields under the stream challenge powers.
func PackEvent(api frontend.API, sPow []frontend.Variable, fields [PackWidth]frontend.Variable) frontend.Variable {
	acc := frontend.Variable(0)
	for i, f := range fields {
		acc = api.Add(acc, api.Mul(f, sPow[i]))
	}
	return acc
}

// FoldBytes is the running byte fold acc*r+b over bytes[0:length]. Bytes at
// and past length do not contribute, so two folds agree exactly when the
// prefixes agree as byte strings, up to challenge collisions.
func FoldBytes(api frontend.API, r frontend.Variable, bytes []frontend.Variable, length frontend.Variable) frontend.Variable {
	acc := frontend.Variable(0)
	inRange := api.Sub(1, api.IsZero(length))
	for j := 0; j < len(bytes); j++ {
		if j > 0 {
			inRange = api.Mul(inRange, api.Sub(1, api.IsZero(api.Sub(length, j))))
		}
		next := api.Add(api.Mul(acc, r), bytes[j])
		acc = api.Select(inRange, next, acc)
	}
	return acc
}

// FoldBytesFixed folds a fixed-width byte string.
func FoldBytesFixed(api frontend.API, r frontend.Variable, bytes []frontend.Variable) frontend.Variable {
	acc := frontend.Variable(0)
	for _, b := range bytes {
		acc = api.Add(api.Mul(acc, r), b)
	}
	return acc
}

// MachineResult is what one machine run exposes: the script's verdict and
// the four event streams to be matched against the obligation slots.
type MachineResult struct {
	ScriptOK    frontend.Variable
	FinalTruthy frontend.Variable
	Accepted    frontend.Variable

	CheckSig      Transcript
	CheckMultisig Transcript
	Hash160       Transcript
	Sha256        Transcript

	// Stream challenge powers for building the slot-side packs.
	SPow [PackWidth]frontend.Variable
	Band frontend.Variable
}

type machineState struct {
	stack []Pair
	depth frontend.Variable

	// parser registers
	dataRem frontend.Variable // immediate bytes still to consume
	lenRem  frontend.Variable // PUSHDATA length-prefix bytes still to consume
	lenAcc  frontend.Variable // little-endian accumulated declared length
	lenPow  frontend.Variable // 256^k tracker for lenAcc
	curRlc  frontend.Variable // fold of the element being assembled
	pushLen frontend.Variable // declared length of that element

	// conditional registers
	inIf   frontend.Variable
	inElse frontend.Variable
	taken  frontend.Variable

	afterEnd frontend.Variable
	scriptOK frontend.Variable
}

// RunMachine executes the arithmetic rendering of the script machine, one
// row per script byte. scriptBytes is padded to p.ScriptLen; rows at and
// past scriptLen are inert. r is the byte fold challenge and s the event
// stream challenge. r must be derived from a commitment over every witnessed
// byte the machine touches, and s from a further commitment so that no
// algebraic relation ties the pack monomials to the byte folds.
func RunMachine(
	api frontend.API,
	p MachineParams,
	scriptBytes []frontend.Variable,
	scriptLen frontend.Variable,
	witElems [][]frontend.Variable,
	witLens []frontend.Variable,
	witCount frontend.Variable,
	feeds CryptoFeeds,
	r, s frontend.Variable,
) (*MachineResult, error) {
	if len(scriptBytes) != p.ScriptLen {
		panic("interp: script row count mismatch")
	}
	if len(witElems) != p.WitnessElems || len(witLens) != p.WitnessElems {
		panic("interp: witness slot count mismatch")
	}
	if p.MultisigKeys < 1 || p.MultisigKeys > 3 {
		panic("interp: multisig key bound must be 1..3")
	}
	if p.StackDepth < p.MultisigKeys+2 {
		panic("interp: stack depth too small for multisig shape reads")
	}

	res := &MachineResult{
		CheckSig:      NewTranscript(),
		CheckMultisig: NewTranscript(),
		Hash160:       NewTranscript(),
		Sha256:        NewTranscript(),
	}
	res.SPow[0] = frontend.Variable(1)
	for i := 1; i < PackWidth; i++ {
		res.SPow[i] = api.Mul(res.SPow[i-1], s)
	}
	res.Band = api.Mul(res.SPow[PackWidth-1], s)

	api.AssertIsEqual(cmp.IsLessOrEqual(api, scriptLen, p.ScriptLen), 1)
	st := initialState(api, p, r, witElems, witLens, witCount)

	for i := 0; i < p.ScriptLen; i++ {
		stepRow(api, p, st, res, i, scriptBytes[i], scriptLen, feeds, r)
	}

	// The script must not end inside a push or an open conditional.
	api.AssertIsEqual(st.dataRem, 0)
	api.AssertIsEqual(st.lenRem, 0)
	api.AssertIsEqual(st.inIf, 0)

	res.ScriptOK = st.scriptOK
	res.FinalTruthy = truthy(api, st.stack[0])
	res.Accepted = api.Mul(res.ScriptOK, res.FinalTruthy)
	return res, nil
}

func initialState(api frontend.API, p MachineParams, r frontend.Variable, witElems [][]frontend.Variable, witLens []frontend.Variable, witCount frontend.Variable) *machineState {
	elems := make([]Pair, p.WitnessElems)
	for t := 0; t < p.WitnessElems; t++ {
		if len(witElems[t]) != p.WitnessElemLen {
			panic("interp: witness element width mismatch")
		}
		for j := range witElems[t] {
			api.ToBinary(witElems[t][j], 8) // byte range
		}
		api.AssertIsEqual(cmp.IsLessOrEqual(api, witLens[t], p.WitnessElemLen), 1)
		elems[t] = Pair{Rlc: FoldBytes(api, r, witElems[t], witLens[t]), Len: witLens[t]}
	}

	// One-hot over the element count, which also bounds it.
	isCount := make([]frontend.Variable, p.WitnessElems+1)
	sum := frontend.Variable(0)
	for w := 0; w <= p.WitnessElems; w++ {
		isCount[w] = api.IsZero(api.Sub(witCount, w))
		sum = api.Add(sum, isCount[w])
	}
	api.AssertIsEqual(sum, 1)

	st := &machineState{
		stack:    make([]Pair, p.StackDepth),
		depth:    witCount,
		dataRem:  0,
		lenRem:   0,
		lenAcc:   0,
		lenPow:   0,
		curRlc:   0,
		pushLen:  0,
		inIf:     0,
		inElse:   0,
		taken:    0,
		afterEnd: 0,
		scriptOK: 1,
	}
	// Load with the top at cell zero: cell j holds element count-1-j.
	// Cells past the loaded elements stay (0, 0).
	for j := 0; j < p.StackDepth; j++ {
		cell := zeroPair()
		for w := j + 1; w <= p.WitnessElems; w++ {
			src := elems[w-1-j]
			cell.Rlc = api.Add(cell.Rlc, api.Mul(isCount[w], src.Rlc))
			cell.Len = api.Add(cell.Len, api.Mul(isCount[w], src.Len))
		}
		st.stack[j] = cell
	}
	return st
}

func truthy(api frontend.API, p Pair) frontend.Variable {
	nonEmpty := api.Sub(1, api.IsZero(p.Len))
	nonZero := api.Sub(1, api.IsZero(p.Rlc))
	negZero := api.Mul(api.IsZero(api.Sub(p.Len, 1)), api.IsZero(api.Sub(p.Rlc, 0x80)))
	return api.Mul(nonEmpty, nonZero, api.Sub(1, negZero))
}

func pairsEqual(api frontend.API, a, b Pair) frontend.Variable {
	return api.Mul(api.IsZero(api.Sub(a.Rlc, b.Rlc)), api.IsZero(api.Sub(a.Len, b.Len)))
}

// leSmall compares a <= b for values whose difference fits in width bits.
// Witnessed values outside that window make the decomposition unsatisfiable,
// which is the desired failure mode.
func leSmall(api frontend.API, a, b frontend.Variable, width int) frontend.Variable {
	bits := api.ToBinary(api.Add(api.Sub(b, a), 1<<width), width+1)
	return bits[width]
}

// muxOrdinal selects vals[sel] for small witnessed ordinals, or zero when
// sel is out of range.
func muxOrdinal(api frontend.API, sel frontend.Variable, vals []frontend.Variable) frontend.Variable {
	out := frontend.Variable(0)
	for k, v := range vals {
		out = api.Add(out, api.Mul(api.IsZero(api.Sub(sel, k)), v))
	}
	return out
}

// cellAt reads a stack cell, treating out-of-range indices as (0, 0).
func cellAt(stack []Pair, j int) Pair {
	if j < 0 || j >= len(stack) {
		return zeroPair()
	}
	return stack[j]
}

// stepRow advances the machine over one script byte.
func stepRow(
	api frontend.API,
	p MachineParams,
	st *machineState,
	res *MachineResult,
	i int,
	b frontend.Variable,
	scriptLen frontend.Variable,
	feeds CryptoFeeds,
	r frontend.Variable,
) {
	api.ToBinary(b, 8) // byte range

	isEnd := api.IsZero(api.Sub(scriptLen, i))
	st.afterEnd = api.Add(st.afterEnd, isEnd)
	active := api.Sub(1, st.afterEnd)

	isData := api.Mul(active, api.Sub(1, api.IsZero(st.dataRem)))
	isLenB := api.Mul(active, api.Sub(1, api.IsZero(st.lenRem)))
	isOp := api.Mul(active, api.Sub(1, isData), api.Sub(1, isLenB))

	// b >= k for byte-range classification.
	isGe := func(k int) frontend.Variable {
		return api.ToBinary(api.Add(b, 256-k), 9)[8]
	}
	opIs := func(c byte) frontend.Variable {
		return api.Mul(isOp, api.IsZero(api.Sub(b, int(c))))
	}

	f0 := opIs(script.OP_0)
	fData := api.Mul(isOp, isGe(0x01), api.Sub(1, isGe(int(script.OP_PUSHDATA1))))
	fPd1 := opIs(script.OP_PUSHDATA1)
	fPd2 := opIs(script.OP_PUSHDATA2)
	fPd4 := opIs(script.OP_PUSHDATA4)
	fSmall := api.Mul(isOp, isGe(int(script.OP_1)), api.Sub(1, isGe(int(script.OP_16)+1)))
	fNop := opIs(script.OP_NOP)
	fIf := opIs(script.OP_IF)
	fElse := opIs(script.OP_ELSE)
	fEndif := opIs(script.OP_ENDIF)
	fVerify := opIs(script.OP_VERIFY)
	fDrop := opIs(script.OP_DROP)
	fDup := opIs(script.OP_DUP)
	fSwap := opIs(script.OP_SWAP)
	fEqual := opIs(script.OP_EQUAL)
	fEqv := opIs(script.OP_EQUALVERIFY)
	fBa := opIs(script.OP_BOOLAND)
	fBo := opIs(script.OP_BOOLOR)
	fSha := opIs(script.OP_SHA256)
	fH160 := opIs(script.OP_HASH160)
	fCs := opIs(script.OP_CHECKSIG)
	fCsv := opIs(script.OP_CHECKSIGVERIFY)
	fMs := opIs(script.OP_CHECKMULTISIG)
	fMsv := opIs(script.OP_CHECKMULTISIGVERIFY)

	supported := api.Add(f0, fData, fPd1, fPd2, fPd4, fSmall, fNop, fIf, fElse, fEndif,
		fVerify, fDrop, fDup, fSwap, fEqual, fEqv, fBa, fBo, fSha, fH160, fCs, fCsv, fMs, fMsv)
	api.AssertIsEqual(api.Mul(isOp, api.Sub(1, supported)), 0)

	// Branch execution bit. Conditionals do not nest, so an IF row always
	// executes and its asserts keep it that way.
	branch := api.Select(st.inElse, api.Sub(1, st.taken), st.taken)
	exec := api.Select(st.inIf, branch, 1)

	api.AssertIsEqual(api.Mul(fIf, st.inIf), 0)
	api.AssertIsEqual(api.Mul(fElse, api.Sub(1, st.inIf)), 0)
	api.AssertIsEqual(api.Mul(fElse, st.inElse), 0)
	api.AssertIsEqual(api.Mul(fEndif, api.Sub(1, st.inIf)), 0)

	s0 := cellAt(st.stack, 0)
	s1 := cellAt(st.stack, 1)

	// Branch conditions must be the empty element or exactly 0x01, under
	// which the condition's fold is its truth value.
	len0 := api.IsZero(s0.Len)
	len1 := api.IsZero(api.Sub(s0.Len, 1))
	rlc1 := api.IsZero(api.Sub(s0.Rlc, 1))
	minimal := api.Add(len0, api.Mul(len1, rlc1))
	api.AssertIsEqual(api.Mul(fIf, api.Sub(1, minimal)), 0)

	// Push assembly. Data and length-prefix consumption runs on every
	// active row regardless of the branch bit; only the resulting stack
	// shift is branch-gated.
	lastData := api.Mul(isData, api.IsZero(api.Sub(st.dataRem, 1)))
	lastLen := api.Mul(isLenB, api.IsZero(api.Sub(st.lenRem, 1)))
	newLenAcc := api.Add(st.lenAcc, api.Mul(b, st.lenPow))
	emptyPd := api.Mul(lastLen, api.IsZero(newLenAcc))
	pushNow := api.Add(f0, fSmall, lastData, emptyPd)
	completedRlc := api.Add(api.Mul(st.curRlc, r), b)
	pushVal := Pair{
		Rlc: api.Add(api.Mul(fSmall, api.Sub(b, 0x50)), api.Mul(lastData, completedRlc)),
		Len: api.Add(fSmall, api.Mul(lastData, st.pushLen)),
	}

	// Multisig shape reads. The key count sits on top, the signature count
	// below the keys; both must be minimal small integers in range. The
	// shape asserts only bind on executed rows, since an untaken branch
	// leaves arbitrary cells under the opcode.
	msAll := api.Add(fMs, fMsv)
	msExec := api.Mul(exec, msAll)
	nVal := s0.Rlc
	api.AssertIsEqual(api.Mul(msExec, api.Sub(1, len1)), 0)
	isN := make([]frontend.Variable, p.MultisigKeys+1)
	nSum := frontend.Variable(0)
	for t := 1; t <= p.MultisigKeys; t++ {
		isN[t] = api.IsZero(api.Sub(nVal, t))
		nSum = api.Add(nSum, isN[t])
	}
	api.AssertIsEqual(api.Mul(msExec, api.Sub(1, nSum)), 0)

	mCell := zeroPair()
	for t := 1; t <= p.MultisigKeys; t++ {
		c := cellAt(st.stack, 1+t)
		mCell.Rlc = api.Add(mCell.Rlc, api.Mul(isN[t], c.Rlc))
		mCell.Len = api.Add(mCell.Len, api.Mul(isN[t], c.Len))
	}
	mVal := mCell.Rlc
	api.AssertIsEqual(api.Mul(msExec, api.Sub(1, api.IsZero(api.Sub(mCell.Len, 1)))), 0)
	isM := make([]frontend.Variable, p.MultisigKeys+1)
	mSum := frontend.Variable(0)
	for u := 1; u <= p.MultisigKeys; u++ {
		isM[u] = api.IsZero(api.Sub(mVal, u))
		mSum = api.Add(mSum, isM[u])
	}
	api.AssertIsEqual(api.Mul(msExec, api.Sub(1, mSum)), 0)
	for t := 1; t <= p.MultisigKeys; t++ {
		for u := t + 1; u <= p.MultisigKeys; u++ {
			api.AssertIsEqual(api.Mul(msExec, isN[t], isM[u]), 0)
		}
	}

	// Keys in script push order: key t is stack cell n-t.
	msKey := make([]Pair, 3)
	for t := 0; t < 3; t++ {
		k := zeroPair()
		for n := t + 1; n <= p.MultisigKeys; n++ {
			c := cellAt(st.stack, n-t)
			k.Rlc = api.Add(k.Rlc, api.Mul(isN[n], c.Rlc))
			k.Len = api.Add(k.Len, api.Mul(isN[n], c.Len))
		}
		msKey[t] = k
	}
	// The pop count enters the comparator only on executed multisig rows;
	// on any other row the stack top can hold a fold far outside the
	// comparison window.
	msPops := api.Select(msExec, api.Add(nVal, mVal, 3), 0)

	// Stack bounds. Depth deltas stay within a few bits, so a narrow
	// comparison window suffices.
	need1 := api.Add(fIf, fVerify, fDrop, fDup, fSha, fH160)
	need2 := api.Add(fEqual, fEqv, fBa, fBo, fSwap, fCs, fCsv)
	ge1 := leSmall(api, 1, st.depth, 7)
	ge2 := leSmall(api, 2, st.depth, 7)
	geMs := leSmall(api, msPops, st.depth, 7)
	api.AssertIsEqual(api.Mul(exec, need1, api.Sub(1, ge1)), 0)
	api.AssertIsEqual(api.Mul(exec, need2, api.Sub(1, ge2)), 0)
	api.AssertIsEqual(api.Mul(exec, msAll, api.Sub(1, geMs)), 0)
	pushers := api.Add(pushNow, fDup)
	roomOK := leSmall(api, api.Add(st.depth, 1), p.StackDepth, 7)
	api.AssertIsEqual(api.Mul(exec, pushers, api.Sub(1, roomOK)), 0)

	// Operand logic.
	eq01 := pairsEqual(api, s0, s1)
	t0 := truthy(api, s0)
	t1 := truthy(api, s1)
	andB := api.Mul(t0, t1)
	orB := api.Sub(api.Add(t0, t1), andB)

	// Crypto results arrive from the obligation slots, selected by the
	// number of same-kind events already seen.
	csFlag := api.Add(fCs, fCsv)
	csOut := muxOrdinal(api, res.CheckSig.Count, feeds.CheckSigOutcome)
	msOut := muxOrdinal(api, res.CheckMultisig.Count, feeds.MultisigOutcome)
	h160Out := muxOrdinal(api, res.Hash160.Count, feeds.Hash160Digest)
	shaOut := muxOrdinal(api, res.Sha256.Count, feeds.Sha256Digest)

	// VERIFY-family conjunction.
	failed := api.Mul(exec, api.Add(
		api.Mul(fVerify, api.Sub(1, t0)),
		api.Mul(fEqv, api.Sub(1, eq01)),
		api.Mul(fCsv, api.Sub(1, csOut)),
		api.Mul(fMsv, api.Sub(1, msOut)),
	))
	st.scriptOK = api.Mul(st.scriptOK, api.Sub(1, failed))

	// Event stream packs. Operands are zeroed on untaken branches, matching
	// the host trace's empty-operand events.
	hashFlag := api.Add(fSha, fH160)
	csKeyRlc := api.Mul(csFlag, s0.Rlc)
	csKeyLen := api.Mul(csFlag, s0.Len)
	fields := [PackWidth]frontend.Variable{
		i,
		exec,
		api.Mul(exec, api.Add(csKeyRlc, api.Mul(msAll, msKey[0].Rlc))),
		api.Mul(exec, api.Add(csKeyLen, api.Mul(msAll, msKey[0].Len))),
		api.Mul(exec, msAll, msKey[1].Rlc),
		api.Mul(exec, msAll, msKey[1].Len),
		api.Mul(exec, msAll, msKey[2].Rlc),
		api.Mul(exec, msAll, msKey[2].Len),
		api.Mul(exec, msAll, mVal),
		api.Mul(exec, msAll, nVal),
		api.Mul(exec, hashFlag, s0.Rlc),
		api.Mul(exec, hashFlag, s0.Len),
	}
	pack := PackEvent(api, res.SPow[:], fields)
	res.CheckSig.Append(api, res.Band, csFlag, pack)
	res.CheckMultisig.Append(api, res.Band, msAll, pack)
	res.Hash160.Append(api, res.Band, fH160, pack)
	res.Sha256.Append(api, res.Band, fSha, pack)

	// Shift selection. Negative shift is a push (cells move away from the
	// top), positive shifts consume cells.
	shM1 := api.Mul(exec, pushers)
	shP1 := api.Mul(exec, api.Add(fIf, fVerify, fDrop, fEqual, fBa, fBo, fCs))
	shP2 := api.Mul(exec, api.Add(fEqv, fCsv))
	var shMs [10]frontend.Variable // shift amount -> flag, amounts 4..9
	for t := 4; t <= 9; t++ {
		shMs[t] = frontend.Variable(0)
	}
	for n := 1; n <= p.MultisigKeys; n++ {
		for m := 1; m <= n; m++ {
			both := api.Mul(isN[n], isM[m])
			shMs[n+m+2] = api.Add(shMs[n+m+2], api.Mul(exec, fMs, both))
			shMs[n+m+3] = api.Add(shMs[n+m+3], api.Mul(exec, fMsv, both))
		}
	}
	nonZeroShift := api.Add(shM1, shP1, shP2)
	for t := 4; t <= 9; t++ {
		nonZeroShift = api.Add(nonZeroShift, shMs[t])
	}
	sh0 := api.Sub(1, nonZeroShift)

	writeTop := api.Mul(exec, api.Add(pushNow, fDup, fEqual, fBa, fBo, fCs, fH160, fSha, fMs))
	newTop := Pair{
		Rlc: api.Add(
			api.Mul(pushNow, pushVal.Rlc),
			api.Mul(fDup, s0.Rlc),
			api.Mul(fEqual, eq01),
			api.Mul(fBa, andB),
			api.Mul(fBo, orB),
			api.Mul(fCs, csOut),
			api.Mul(fH160, h160Out),
			api.Mul(fSha, shaOut),
			api.Mul(fMs, msOut),
		),
		Len: api.Add(
			api.Mul(pushNow, pushVal.Len),
			api.Mul(fDup, s0.Len),
			api.Mul(fEqual, eq01),
			api.Mul(fBa, andB),
			api.Mul(fBo, orB),
			api.Mul(fCs, csOut),
			api.Mul(fH160, 20),
			api.Mul(fSha, 32),
			api.Mul(fMs, msOut),
		),
	}
	swapF := api.Mul(exec, fSwap)

	next := make([]Pair, p.StackDepth)
	for j := 0; j < p.StackDepth; j++ {
		base := Pair{
			Rlc: api.Mul(sh0, st.stack[j].Rlc),
			Len: api.Mul(sh0, st.stack[j].Len),
		}
		addShift := func(flag frontend.Variable, src Pair) {
			base.Rlc = api.Add(base.Rlc, api.Mul(flag, src.Rlc))
			base.Len = api.Add(base.Len, api.Mul(flag, src.Len))
		}
		addShift(shM1, cellAt(st.stack, j-1))
		addShift(shP1, cellAt(st.stack, j+1))
		addShift(shP2, cellAt(st.stack, j+2))
		for t := 4; t <= 9; t++ {
			addShift(shMs[t], cellAt(st.stack, j+t))
		}
		switch j {
		case 0:
			base.Rlc = api.Select(writeTop, newTop.Rlc, base.Rlc)
			base.Len = api.Select(writeTop, newTop.Len, base.Len)
			base.Rlc = api.Select(swapF, s1.Rlc, base.Rlc)
			base.Len = api.Select(swapF, s1.Len, base.Len)
		case 1:
			base.Rlc = api.Select(swapF, s0.Rlc, base.Rlc)
			base.Len = api.Select(swapF, s0.Len, base.Len)
		}
		next[j] = base
	}
	st.stack = next

	delta := api.Sub(shM1, shP1, api.Mul(2, shP2))
	for t := 4; t <= 9; t++ {
		delta = api.Sub(delta, api.Mul(t, shMs[t]))
	}
	st.depth = api.Add(st.depth, delta)

	// Parser register updates. Holds are complements of the disjoint
	// trigger flags, so inactive rows keep their state for the final
	// structural asserts.
	st.curRlc = api.Mul(isData, api.Sub(1, api.IsZero(api.Sub(st.dataRem, 1))), completedRlc)
	pdStart := api.Add(fPd1, fPd2, fPd4)
	dataHold := api.Sub(1, fData, isData, lastLen)
	st.dataRem = api.Add(
		api.Mul(fData, b),
		api.Mul(isData, api.Sub(st.dataRem, 1)),
		api.Mul(lastLen, newLenAcc),
		api.Mul(dataHold, st.dataRem),
	)
	lenHold := api.Sub(1, pdStart, isLenB)
	st.lenRem = api.Add(
		fPd1,
		api.Mul(fPd2, 2),
		api.Mul(fPd4, 4),
		api.Mul(isLenB, api.Sub(st.lenRem, 1)),
		api.Mul(lenHold, st.lenRem),
	)
	st.lenAcc = api.Add(api.Mul(isLenB, newLenAcc), api.Mul(api.Sub(1, isLenB, pdStart), st.lenAcc))
	st.lenPow = api.Add(pdStart, api.Mul(isLenB, st.lenPow, 256), api.Mul(lenHold, st.lenPow))
	pushLenHold := api.Sub(1, fData, lastLen)
	st.pushLen = api.Add(api.Mul(fData, b), api.Mul(lastLen, newLenAcc), api.Mul(pushLenHold, st.pushLen))

	// Conditional registers.
	st.inIf = api.Select(fIf, 1, api.Select(fEndif, 0, st.inIf))
	st.inElse = api.Select(fElse, 1, api.Select(fEndif, 0, st.inElse))
	st.taken = api.Select(fIf, s0.Rlc, api.Select(fEndif, 0, st.taken))
}
