package interp

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/zkpor/bitcoinvm/script"
)

func testLimits() Limits {
	return Limits{
		MaxStackDepth:     8,
		MaxWitnessElems:   4,
		MaxWitnessElemLen: 80,
		MaxMultisigKeys:   3,
	}
}

func buildScript(t *testing.T, build func(b *script.ScriptBuilder)) *script.Program {
	t.Helper()
	b := script.NewScriptBuilder()
	build(b)
	raw, err := b.Script()
	require.NoError(t, err)
	p, err := script.Decode(raw, 256, 80)
	require.NoError(t, err)
	return p
}

func testPubKey(t *testing.T, seed byte) []byte {
	t.Helper()
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv.PubKey().SerializeCompressed()
}

func TestRunPayToPubKeyHash(t *testing.T) {
	pk := testPubKey(t, 0x11)
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_DUP).AddOp(script.OP_HASH160)
		b.AddData(btcutil.Hash160(pk))
		b.AddOp(script.OP_EQUALVERIFY).AddOp(script.OP_CHECKSIG)
	})
	witness := []Element{NewElement([]byte{0x30}), NewElement(pk)}

	tr, err := Run(p, witness, testLimits(), nil)
	require.NoError(t, err)
	require.True(t, tr.Valid())
	require.True(t, tr.ScriptOK)
	require.True(t, tr.FinalTruthy)

	hashes := tr.EventsOfKind(script.KindHash160)
	require.Len(t, hashes, 1)
	require.Equal(t, pk, hashes[0].Input.Bytes())
	require.Equal(t, btcutil.Hash160(pk), hashes[0].Output.Bytes())

	sigs := tr.EventsOfKind(script.KindCheckSig)
	require.Len(t, sigs, 1)
	require.True(t, sigs[0].Reachable)
	require.Equal(t, pk, sigs[0].Key.Bytes())
	require.True(t, sigs[0].Outcome)
}

func TestRunWrongHashFails(t *testing.T) {
	pk := testPubKey(t, 0x11)
	other := testPubKey(t, 0x22)
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_DUP).AddOp(script.OP_HASH160)
		b.AddData(btcutil.Hash160(other))
		b.AddOp(script.OP_EQUALVERIFY).AddOp(script.OP_CHECKSIG)
	})
	witness := []Element{NewElement([]byte{0x30}), NewElement(pk)}

	tr, err := Run(p, witness, testLimits(), nil)
	require.NoError(t, err)
	require.False(t, tr.ScriptOK)
	require.False(t, tr.Valid())
	// Execution continues past the failed EQUALVERIFY.
	require.Len(t, tr.EventsOfKind(script.KindCheckSig), 1)
}

func TestRunBoolOrTwoKeys(t *testing.T) {
	key1 := testPubKey(t, 0x11)
	key2 := testPubKey(t, 0x22)
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddData(key1).AddOp(script.OP_CHECKSIG)
		b.AddOp(script.OP_SWAP)
		b.AddData(key2).AddOp(script.OP_CHECKSIG)
		b.AddOp(script.OP_BOOLOR)
	})
	witness := []Element{NewElement(nil), NewElement(nil)}
	holdsKey1 := func(ev *Event) bool {
		return ev.Kind == script.KindCheckSig && bytes.Equal(ev.Key.Bytes(), key1)
	}

	tr, err := Run(p, witness, testLimits(), holdsKey1)
	require.NoError(t, err)
	require.True(t, tr.Valid())

	sigs := tr.EventsOfKind(script.KindCheckSig)
	require.Len(t, sigs, 2)
	require.True(t, sigs[0].Outcome)
	require.False(t, sigs[1].Outcome)

	// Neither key alone claimed: the disjunction is false.
	tr, err = Run(p, witness, testLimits(), func(*Event) bool { return false })
	require.NoError(t, err)
	require.False(t, tr.FinalTruthy)
	require.False(t, tr.Valid())
}

func TestRunConditionalBranches(t *testing.T) {
	secret := []byte("pay to the preimage holder")
	prog := func(t *testing.T) *script.Program {
		return buildScript(t, func(b *script.ScriptBuilder) {
			b.AddOp(script.OP_IF)
			b.AddOp(script.OP_HASH160).AddData(btcutil.Hash160(secret)).AddOp(script.OP_EQUAL)
			b.AddOp(script.OP_ELSE)
			b.AddOp(script.OP_SHA256).AddData(chainhash.HashB(secret)).AddOp(script.OP_EQUAL)
			b.AddOp(script.OP_ENDIF)
		})
	}

	p := prog(t)
	tr, err := Run(p, []Element{NewElement(secret), NewElement([]byte{0x01})}, testLimits(), nil)
	require.NoError(t, err)
	require.True(t, tr.Valid())
	require.Len(t, tr.EventsOfKind(script.KindHash160), 1)
	require.True(t, tr.EventsOfKind(script.KindHash160)[0].Reachable)
	// The untaken branch still reports its crypto instruction.
	require.Len(t, tr.EventsOfKind(script.KindSha256), 1)
	require.False(t, tr.EventsOfKind(script.KindSha256)[0].Reachable)

	p = prog(t)
	tr, err = Run(p, []Element{NewElement(secret), NewElement(nil)}, testLimits(), nil)
	require.NoError(t, err)
	require.True(t, tr.Valid())
	require.False(t, tr.EventsOfKind(script.KindHash160)[0].Reachable)
	require.True(t, tr.EventsOfKind(script.KindSha256)[0].Reachable)
}

func TestRunConditionalReachability(t *testing.T) {
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_IF)
		b.AddOp(script.OP_1)
		b.AddOp(script.OP_ELSE)
		b.AddOp(script.OP_0)
		b.AddOp(script.OP_ENDIF)
	})
	tr, err := Run(p, []Element{NewElement([]byte{0x01})}, testLimits(), nil)
	require.NoError(t, err)
	require.True(t, tr.Reachable[1])  // OP_1 in the taken branch
	require.False(t, tr.Reachable[3]) // OP_0 in the untaken branch
	require.True(t, tr.FinalTruthy)

	top, ok := tr.After[1].Top()
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, top.Bytes())
	// The untaken branch leaves the stack untouched.
	require.Equal(t, len(tr.Before[3]), len(tr.After[3]))
}

func TestRunConditionalErrors(t *testing.T) {
	lim := testLimits()

	nested := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_IF).AddOp(script.OP_IF).AddOp(script.OP_ENDIF).AddOp(script.OP_ENDIF)
	})
	_, err := Run(nested, []Element{NewElement([]byte{0x01}), NewElement([]byte{0x01})}, lim, nil)
	var condErr *ConditionalError
	require.ErrorAs(t, err, &condErr)
	require.Equal(t, 1, condErr.Position)

	// A nested conditional is rejected even inside an untaken branch.
	_, err = Run(nested, []Element{NewElement([]byte{0x01}), NewElement(nil)}, lim, nil)
	require.ErrorAs(t, err, &condErr)

	danglingElse := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_ELSE)
	})
	_, err = Run(danglingElse, nil, lim, nil)
	require.ErrorAs(t, err, &condErr)

	danglingEndIf := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_ENDIF)
	})
	_, err = Run(danglingEndIf, nil, lim, nil)
	require.ErrorAs(t, err, &condErr)

	unterminated := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_IF).AddOp(script.OP_1)
	})
	_, err = Run(unterminated, []Element{NewElement([]byte{0x01})}, lim, nil)
	require.ErrorAs(t, err, &condErr)
	require.Equal(t, -1, condErr.Position)

	// Branch conditions must be empty or exactly 0x01.
	loose := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_IF).AddOp(script.OP_1).AddOp(script.OP_ENDIF)
	})
	_, err = Run(loose, []Element{NewElement([]byte{0x02})}, lim, nil)
	var boolErr *NonCanonicalBoolError
	require.ErrorAs(t, err, &boolErr)
	require.Equal(t, 0, boolErr.Position)
}

func TestRunStackFaults(t *testing.T) {
	lim := testLimits()

	under := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_DUP)
	})
	tr, err := Run(under, nil, lim, nil)
	require.NoError(t, err)
	require.NotNil(t, tr.Fault)
	require.Equal(t, FaultUnderflow, tr.Fault.Kind)
	require.Equal(t, 0, tr.Fault.Position)
	require.False(t, tr.Valid())

	lim.MaxStackDepth = 3
	atLimit := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_1).AddOp(script.OP_2).AddOp(script.OP_3)
	})
	tr, err = Run(atLimit, nil, lim, nil)
	require.NoError(t, err)
	require.Nil(t, tr.Fault)
	require.True(t, tr.Valid())

	over := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_1).AddOp(script.OP_2).AddOp(script.OP_3).AddOp(script.OP_4)
	})
	tr, err = Run(over, nil, lim, nil)
	require.NoError(t, err)
	require.NotNil(t, tr.Fault)
	require.Equal(t, FaultOverflow, tr.Fault.Kind)
	require.Equal(t, 3, tr.Fault.Position)
	// The faulting instruction and everything after it leave no trace.
	require.Equal(t, tr.Before[3], tr.After[3])
	require.False(t, tr.Reachable[4])
}

func TestRunVerifySemantics(t *testing.T) {
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_0).AddOp(script.OP_VERIFY).AddOp(script.OP_1)
	})
	tr, err := Run(p, nil, testLimits(), nil)
	require.NoError(t, err)
	require.False(t, tr.ScriptOK)
	require.True(t, tr.FinalTruthy)
	require.False(t, tr.Valid())

	p = buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_1).AddOp(script.OP_VERIFY).AddOp(script.OP_1)
	})
	tr, err = Run(p, nil, testLimits(), nil)
	require.NoError(t, err)
	require.True(t, tr.Valid())
}

func TestRunCheckSigVerify(t *testing.T) {
	pk := testPubKey(t, 0x33)
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddData(pk).AddOp(script.OP_CHECKSIGVERIFY).AddOp(script.OP_1)
	})
	witness := []Element{NewElement(nil)}

	tr, err := Run(p, witness, testLimits(), nil)
	require.NoError(t, err)
	require.True(t, tr.Valid())
	require.True(t, tr.EventsOfKind(script.KindCheckSig)[0].Verify)

	tr, err = Run(p, witness, testLimits(), func(*Event) bool { return false })
	require.NoError(t, err)
	require.False(t, tr.ScriptOK)
	require.False(t, tr.Valid())
}

func TestRunMultisig(t *testing.T) {
	k1 := testPubKey(t, 0x41)
	k2 := testPubKey(t, 0x42)
	k3 := testPubKey(t, 0x43)
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddInt64(2)
		b.AddData(k1).AddData(k2).AddData(k3)
		b.AddInt64(3)
		b.AddOp(script.OP_CHECKMULTISIG)
	})
	witness := []Element{NewElement(nil), NewElement(nil), NewElement(nil)}

	tr, err := Run(p, witness, testLimits(), nil)
	require.NoError(t, err)
	require.True(t, tr.Valid())

	evs := tr.EventsOfKind(script.KindCheckMultisig)
	require.Len(t, evs, 1)
	require.Equal(t, 2, evs[0].M)
	require.Equal(t, 3, evs[0].N)
	// Keys come back in script order regardless of stack order.
	require.Equal(t, k1, evs[0].Keys[0].Bytes())
	require.Equal(t, k2, evs[0].Keys[1].Bytes())
	require.Equal(t, k3, evs[0].Keys[2].Bytes())
}

func TestRunMultisigShapeErrors(t *testing.T) {
	k1 := testPubKey(t, 0x41)
	lim := testLimits()

	zeroKeys := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddInt64(0).AddOp(script.OP_CHECKMULTISIG)
	})
	_, err := Run(zeroKeys, []Element{NewElement(nil)}, lim, nil)
	var shapeErr *MultisigShapeError
	require.ErrorAs(t, err, &shapeErr)

	tooManyKeys := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddInt64(1)
		b.AddData(k1).AddData(k1).AddData(k1).AddData(k1)
		b.AddInt64(4)
		b.AddOp(script.OP_CHECKMULTISIG)
	})
	_, err = Run(tooManyKeys, []Element{NewElement(nil), NewElement(nil)}, lim, nil)
	require.ErrorAs(t, err, &shapeErr)

	sigsExceedKeys := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddInt64(2)
		b.AddData(k1)
		b.AddInt64(1)
		b.AddOp(script.OP_CHECKMULTISIG)
	})
	_, err = Run(sigsExceedKeys, []Element{NewElement(nil), NewElement(nil), NewElement(nil)}, lim, nil)
	require.ErrorAs(t, err, &shapeErr)

	nonMinimalCount := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddInt64(1)
		b.AddData(k1)
		b.AddData([]byte{0x01, 0x00})
		b.AddOp(script.OP_CHECKMULTISIG)
	})
	_, err = Run(nonMinimalCount, []Element{NewElement(nil), NewElement(nil)}, lim, nil)
	require.ErrorAs(t, err, &shapeErr)
}

func TestRunWitnessValidation(t *testing.T) {
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_1)
	})
	lim := testLimits()

	var wErr *WitnessStackError
	_, err := Run(p, make([]Element, lim.MaxWitnessElems+1), lim, nil)
	require.ErrorAs(t, err, &wErr)

	long := []Element{NewElement(bytes.Repeat([]byte{0xaa}, lim.MaxWitnessElemLen+1))}
	_, err = Run(p, long, lim, nil)
	require.ErrorAs(t, err, &wErr)
}

func TestRunNonCanonicalBool(t *testing.T) {
	// 0x0080 is consensus-false but carries a nonzero byte.
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddData([]byte{0x00, 0x80}).AddOp(script.OP_1).AddOp(script.OP_BOOLOR)
	})
	_, err := Run(p, nil, testLimits(), nil)
	var boolErr *NonCanonicalBoolError
	require.ErrorAs(t, err, &boolErr)

	final := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddData([]byte{0x00, 0x80})
	})
	_, err = Run(final, nil, testLimits(), nil)
	require.ErrorAs(t, err, &boolErr)
	require.Equal(t, -1, boolErr.Position)

	// Single-byte values agree between the two truth rules.
	ok := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddData([]byte{0x80}).AddData([]byte{0x00}).AddOp(script.OP_BOOLOR)
	})
	tr, err := Run(ok, nil, testLimits(), nil)
	require.NoError(t, err)
	require.False(t, tr.FinalTruthy)
}

func TestRunEmptyFinalStack(t *testing.T) {
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddOp(script.OP_1).AddOp(script.OP_DROP)
	})
	tr, err := Run(p, nil, testLimits(), nil)
	require.NoError(t, err)
	require.False(t, tr.FinalTruthy)
	require.False(t, tr.Valid())
}

func TestRunSwapAndDup(t *testing.T) {
	p := buildScript(t, func(b *script.ScriptBuilder) {
		b.AddData([]byte{0x0a}).AddData([]byte{0x0b}).AddOp(script.OP_SWAP).AddOp(script.OP_DUP)
	})
	tr, err := Run(p, nil, testLimits(), nil)
	require.NoError(t, err)
	last := tr.After[len(tr.Program.Records)-1]
	require.Len(t, last, 3)
	require.Equal(t, []byte{0x0b}, last[0].Bytes())
	require.Equal(t, []byte{0x0a}, last[1].Bytes())
	require.Equal(t, []byte{0x0a}, last[2].Bytes())
}
