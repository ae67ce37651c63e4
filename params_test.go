package bitcoinvm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	require.NoError(t, TestParams().Validate())

	p := DefaultParams()
	p.MaxScriptLen = 0
	require.Error(t, p.Validate())

	p = DefaultParams()
	p.MaxScriptLen = 20
	require.Error(t, p.Validate())

	p = DefaultParams()
	p.MaxMultisigKeys = 4
	require.Error(t, p.Validate())

	p = DefaultParams()
	p.MaxStackDepth = p.MaxMultisigKeys + 1
	require.Error(t, p.Validate())

	p = DefaultParams()
	p.MaxWitnessElems = p.MaxStackDepth + 1
	require.Error(t, p.Validate())

	p = DefaultParams()
	p.MaxPushLen = p.MaxScriptLen + 1
	require.Error(t, p.Validate())

	p = DefaultParams()
	p.MaxPreimageLen = p.MaxWitnessElemLen - 1
	require.Error(t, p.Validate())
}

func TestParamsFingerprint(t *testing.T) {
	a, err := DefaultParams().Fingerprint()
	require.NoError(t, err)
	b, err := DefaultParams().Fingerprint()
	require.NoError(t, err)
	require.Equal(t, a, b)

	p := DefaultParams()
	p.KCheckSig++
	c, err := p.Fingerprint()
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	hex1, err := DefaultParams().FingerprintHex()
	require.NoError(t, err)
	require.Len(t, hex1, 64)
}

func TestParamsAdapters(t *testing.T) {
	p := DefaultParams()

	lim := p.Limits()
	require.Equal(t, p.MaxStackDepth, lim.MaxStackDepth)
	require.Equal(t, p.MaxWitnessElems, lim.MaxWitnessElems)
	require.Equal(t, p.MaxWitnessElemLen, lim.MaxWitnessElemLen)
	require.Equal(t, p.MaxMultisigKeys, lim.MaxMultisigKeys)

	mp := p.MachineParams()
	require.Equal(t, p.MaxScriptLen, mp.ScriptLen)
	require.Equal(t, p.MaxStackDepth, mp.StackDepth)

	caps := p.Capacities()
	require.Equal(t, p.KCheckSig, caps.CheckSig)
	require.Equal(t, p.KSha256, caps.Sha256)
}
