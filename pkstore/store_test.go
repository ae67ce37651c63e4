package pkstore

import (
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/stretchr/testify/require"
)

type squareCircuit struct {
	X frontend.Variable
	Y frontend.Variable `gnark:",public"`
}

func (c *squareCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(api.Mul(c.X, c.X), c.Y)
	return nil
}

func buildSquare(t *testing.T) *Artifacts {
	t.Helper()
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &squareCircuit{})
	require.NoError(t, err)
	pk, vk, err := groth16.Setup(cs)
	require.NoError(t, err)
	return &Artifacts{CS: cs, PK: pk, VK: vk}
}

func TestStoreRoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	defer s.Close()

	fp := sha256.Sum256([]byte("square"))

	miss, err := s.Load(fp)
	require.NoError(t, err)
	require.Nil(t, miss)

	a := buildSquare(t)
	require.NoError(t, s.Store(fp, a))

	got, err := s.Load(fp)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, a.CS.GetNbConstraints(), got.CS.GetNbConstraints())
	require.Equal(t, a.CS.GetNbPublicVariables(), got.CS.GetNbPublicVariables())
}

func TestLoadOrSetup(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	defer s.Close()

	fp := sha256.Sum256([]byte("square-2"))

	calls := 0
	build := func() (*Artifacts, error) {
		calls++
		return buildSquare(t), nil
	}

	first, err := s.LoadOrSetup(fp, build)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, 1, calls)

	second, err := s.LoadOrSetup(fp, build)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, first.CS.GetNbConstraints(), second.CS.GetNbConstraints())
}
