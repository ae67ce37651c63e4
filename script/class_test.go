package script

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, seed byte) *btcec.PublicKey {
	t.Helper()
	var b [32]byte
	b[31] = seed
	priv, pub := btcec.PrivKeyFromBytes(b[:])
	require.NotNil(t, priv)
	return pub
}

func TestClassifyScript(t *testing.T) {
	pub := testKey(t, 1)
	comp := pub.SerializeCompressed()
	uncomp := pub.SerializeUncompressed()
	hash20 := btcutil.Hash160(comp)
	hash32 := bytes.Repeat([]byte{0x11}, 32)

	cases := []struct {
		name   string
		script []byte
		class  ScriptClass
	}{
		{"p2pk_compressed", mustScript(t, NewScriptBuilder().AddData(comp).AddOp(OP_CHECKSIG)), PubKeyTy},
		{"p2pk_uncompressed", mustScript(t, NewScriptBuilder().AddData(uncomp).AddOp(OP_CHECKSIG)), PubKeyTy},
		{"p2pkh", mustScript(t, NewScriptBuilder().
			AddOp(OP_DUP).AddOp(OP_HASH160).AddData(hash20).
			AddOp(OP_EQUALVERIFY).AddOp(OP_CHECKSIG)), PubKeyHashTy},
		{"p2sh", mustScript(t, NewScriptBuilder().
			AddOp(OP_HASH160).AddData(hash20).AddOp(OP_EQUAL)), ScriptHashTy},
		{"multisig", mustScript(t, NewScriptBuilder().
			AddInt64(1).AddData(comp).AddData(testKey(t, 2).SerializeCompressed()).
			AddInt64(2).AddOp(OP_CHECKMULTISIG)), MultiSigTy},
		{"p2wpkh", mustScript(t, NewScriptBuilder().AddOp(OP_0).AddData(hash20)), WitnessV0PubKeyHashTy},
		{"p2wsh", mustScript(t, NewScriptBuilder().AddOp(OP_0).AddData(hash32)), WitnessV0ScriptHashTy},
		{"empty", nil, NonStandardTy},
		{"bare_dup", []byte{OP_DUP}, NonStandardTy},
		{"bool_chain", mustScript(t, NewScriptBuilder().
			AddData(comp).AddOp(OP_CHECKSIG).AddOp(OP_SWAP).
			AddData(comp).AddOp(OP_CHECKSIG).AddOp(OP_BOOLOR)), NonStandardTy},
	}
	for _, tc := range cases {
		require.Equal(t, tc.class, ClassifyScript(tc.script), tc.name)
	}
}

func TestExtractMultiSigDetails(t *testing.T) {
	k1 := testKey(t, 1).SerializeCompressed()
	k2 := testKey(t, 2).SerializeCompressed()
	k3 := testKey(t, 3).SerializeUncompressed()
	raw := mustScript(t, NewScriptBuilder().
		AddInt64(2).AddData(k1).AddData(k2).AddData(k3).
		AddInt64(3).AddOp(OP_CHECKMULTISIG))

	details := ExtractMultiSigDetails(raw)
	require.True(t, details.Valid)
	require.Equal(t, 2, details.M)
	require.Equal(t, 3, details.N)
	require.Equal(t, [][]byte{k1, k2, k3}, details.PubKeys)

	// m greater than n is rejected.
	bad := mustScript(t, NewScriptBuilder().
		AddInt64(3).AddData(k1).AddData(k2).
		AddInt64(2).AddOp(OP_CHECKMULTISIG))
	require.False(t, ExtractMultiSigDetails(bad).Valid)

	// Key count must match the trailing n.
	bad = mustScript(t, NewScriptBuilder().
		AddInt64(1).AddData(k1).AddData(k2).
		AddInt64(3).AddOp(OP_CHECKMULTISIG))
	require.False(t, ExtractMultiSigDetails(bad).Valid)
}

func TestExtractWitnessProgram(t *testing.T) {
	hash20 := bytes.Repeat([]byte{0x22}, 20)
	version, program := ExtractWitnessProgram(mustScript(t, NewScriptBuilder().AddOp(OP_0).AddData(hash20)))
	require.Equal(t, 0, version)
	require.Equal(t, hash20, program)

	version, program = ExtractWitnessProgram([]byte{OP_DUP, 20})
	require.Equal(t, -1, version)
	require.Nil(t, program)
}

func TestExtractAddress(t *testing.T) {
	pub := testKey(t, 7)
	comp := pub.SerializeCompressed()
	hash20 := btcutil.Hash160(comp)
	net := &chaincfg.MainNetParams

	p2pkh := mustScript(t, NewScriptBuilder().
		AddOp(OP_DUP).AddOp(OP_HASH160).AddData(hash20).
		AddOp(OP_EQUALVERIFY).AddOp(OP_CHECKSIG))
	addr, err := ExtractAddress(p2pkh, net)
	require.NoError(t, err)
	want, err := btcutil.NewAddressPubKeyHash(hash20, net)
	require.NoError(t, err)
	require.Equal(t, want.EncodeAddress(), addr.EncodeAddress())

	p2wpkh := mustScript(t, NewScriptBuilder().AddOp(OP_0).AddData(hash20))
	addr, err = ExtractAddress(p2wpkh, net)
	require.NoError(t, err)
	wantW, err := btcutil.NewAddressWitnessPubKeyHash(hash20, net)
	require.NoError(t, err)
	require.Equal(t, wantW.EncodeAddress(), addr.EncodeAddress())

	_, err = ExtractAddress([]byte{OP_1}, net)
	require.Error(t, err)
}

func TestScriptClassString(t *testing.T) {
	require.Equal(t, "pubkeyhash", PubKeyHashTy.String())
	require.Equal(t, "witness_v0_scripthash", WitnessV0ScriptHashTy.String())
	require.Equal(t, "invalid", ScriptClass(250).String())
}
