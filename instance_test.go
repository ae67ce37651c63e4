package bitcoinvm

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zkpor/bitcoinvm/obligation"
	"github.com/zkpor/bitcoinvm/script"
	fixtures "github.com/zkpor/bitcoinvm/test"
)

func TestInstancePayToPubKeyHash(t *testing.T) {
	priv := fixtures.Key(0x11)
	pub := priv.PubKey().SerializeCompressed()
	sighash := fixtures.Sighash("p2pkh spend")

	inst, err := NewInstance(TestParams(),
		fixtures.P2PKH(pub), nil,
		[][]byte{nil, pub},
		sighash, NewKeyRing(priv))
	require.NoError(t, err)
	require.Equal(t, StageAssembled, inst.Stage())
	require.Equal(t, script.WrapNone, inst.Mode())

	set := inst.Obligations()
	require.Equal(t, 1, set.ActiveCount(script.KindCheckSig))
	require.Equal(t, 1, set.ActiveCount(script.KindHash160))
	require.True(t, inst.Trace().Valid())

	a, err := inst.Assignment()
	require.NoError(t, err)
	require.Equal(t, 1, a.CheckSig[0].Selected)
	require.Equal(t, 0, a.CheckSig[1].Selected)
}

func TestInstanceKeyNotHeld(t *testing.T) {
	spender := fixtures.Key(0x21)
	owner := fixtures.Key(0x22)
	sighash := fixtures.Sighash("wrong key")

	// The ring cannot claim the owner's CHECKSIG, so the script evaluates
	// false and the pipeline stops before discharge.
	_, err := NewInstance(TestParams(),
		fixtures.P2PK(owner.PubKey().SerializeCompressed()), nil,
		[][]byte{nil},
		sighash, NewKeyRing(spender))
	var cerr *ConstructionError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, StageAccumulating, cerr.Stage)
	var selErr *obligation.SelectionError
	require.ErrorAs(t, err, &selErr)
}

func TestInstanceBadExternalSignature(t *testing.T) {
	owner := fixtures.Key(0x31)
	other := fixtures.Key(0x32)
	pub := owner.PubKey().SerializeCompressed()
	sighash := fixtures.Sighash("forged")

	// A signer that claims the key but produces another key's signature
	// fails host verification with a gadget error.
	forged := StaticSigner{hex.EncodeToString(pub): fixtures.SignDER(other, sighash)}
	_, err := NewInstance(TestParams(),
		fixtures.P2PK(pub), nil,
		[][]byte{nil},
		sighash, forged)
	var cerr *ConstructionError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, StageDischarging, cerr.Stage)
	var gerr *GadgetError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, "checksig", gerr.Kind)
	require.Equal(t, 0, gerr.Slot)
}

func TestInstanceHashLock(t *testing.T) {
	secret := []byte("preimage under 40 bytes")

	inst, err := NewInstance(TestParams(),
		fixtures.HashLock(secret), nil,
		[][]byte{secret},
		fixtures.Sighash("hash lock"), nil)
	require.NoError(t, err)
	require.Equal(t, StageAssembled, inst.Stage())
	require.Equal(t, 1, inst.Obligations().ActiveCount(script.KindSha256))
}

func TestInstanceP2SHMultisig(t *testing.T) {
	k1, k2, k3 := fixtures.Key(0x41), fixtures.Key(0x42), fixtures.Key(0x43)
	pubs := [][]byte{
		k1.PubKey().SerializeCompressed(),
		k2.PubKey().SerializeCompressed(),
		k3.PubKey().SerializeCompressed(),
	}
	redeem := fixtures.Multisig(2, pubs...)
	sighash := fixtures.Sighash("2of3")

	// OP_CHECKMULTISIG consumes two placeholders plus the historical extra
	// element.
	inst, err := NewInstance(TestParams(),
		fixtures.P2SH(redeem), redeem,
		[][]byte{nil, nil, nil},
		sighash, NewKeyRing(k1, k3))
	require.NoError(t, err)
	require.Equal(t, StageAssembled, inst.Stage())
	require.Equal(t, script.WrapP2SH, inst.Mode())
	require.Equal(t, redeem, inst.Effective())

	a, err := inst.Assignment()
	require.NoError(t, err)
	require.Equal(t, 1, a.CheckMultisig[0].Selected)
	require.Equal(t, 1, a.CheckMultisig[0].KeyUse[0])
	require.Equal(t, 0, a.CheckMultisig[0].KeyUse[1])
	require.Equal(t, 1, a.CheckMultisig[0].KeyUse[2])
}

func TestInstanceWrongRedeemScript(t *testing.T) {
	k := fixtures.Key(0x51)
	redeem := fixtures.P2PK(k.PubKey().SerializeCompressed())
	locking := fixtures.P2SH(redeem)

	_, err := NewInstance(TestParams(), locking, []byte{script.OP_1}, [][]byte{nil},
		fixtures.Sighash("bad redeem"), NewKeyRing(k))
	var cerr *ConstructionError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, StageDecoding, cerr.Stage)
	var eerr *script.EmbeddedScriptError
	require.ErrorAs(t, err, &eerr)
}

func TestInstanceCapacityExceeded(t *testing.T) {
	p := TestParams()
	p.MaxScriptLen = 200
	pub := fixtures.Key(0x61).PubKey().SerializeCompressed()

	b := script.NewScriptBuilder().AddData(pub).AddOp(script.OP_CHECKSIG)
	for i := 1; i <= p.KCheckSig; i++ {
		b.AddOp(script.OP_DROP).AddData(pub).AddOp(script.OP_CHECKSIG)
	}
	raw, err := b.Script()
	require.NoError(t, err)

	wit := make([][]byte, p.KCheckSig+1)
	_, err = NewInstance(p, raw, nil, wit, fixtures.Sighash("cap"), NewKeyRing(fixtures.Key(0x61)))
	var cerr *ConstructionError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, StageAccumulating, cerr.Stage)
	var capErr *obligation.CapacityError
	require.ErrorAs(t, err, &capErr)
}

func TestComputeCommitment(t *testing.T) {
	p := TestParams()
	a := ComputeCommitment(p, []byte{script.OP_1})
	b := ComputeCommitment(p, []byte{script.OP_1, script.OP_NOP})
	require.NotEqual(t, a, b)

	// Trailing zero bytes are part of the script, not padding.
	c := ComputeCommitment(p, []byte{script.OP_1, 0x00})
	require.NotEqual(t, a, c)

	buf := make([]byte, p.MaxScriptLen+8)
	buf[0] = script.OP_1
	buf[p.MaxScriptLen] = 1
	require.Equal(t, sha256.Sum256(buf), a)
}
