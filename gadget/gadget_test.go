package gadget

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"

	"github.com/zkpor/bitcoinvm/obligation"
)

type hash160Circuit struct {
	Data []frontend.Variable
	Len  frontend.Variable
	Want [20]frontend.Variable
}

func (c *hash160Circuit) Define(api frontend.API) error {
	digest, err := Hash160Bytes(api, c.Data, c.Len)
	if err != nil {
		return err
	}
	for i := range digest {
		api.AssertIsEqual(digest[i], c.Want[i])
	}
	return nil
}

func TestHash160Circuit(t *testing.T) {
	for _, preimage := range [][]byte{
		[]byte("abc"),
		{},
		bytes.Repeat([]byte{0xa5}, 33),
	} {
		def := &hash160Circuit{Data: make([]frontend.Variable, 40)}
		assign := &hash160Circuit{Data: make([]frontend.Variable, 40)}
		for i := range assign.Data {
			assign.Data[i] = 0
			def.Data[i] = 0
		}
		for i, b := range preimage {
			assign.Data[i] = int(b)
		}
		assign.Len = len(preimage)
		for i, b := range btcutil.Hash160(preimage) {
			assign.Want[i] = int(b)
		}
		require.NoError(t, test.IsSolved(def, assign, ecc.BN254.ScalarField()),
			"hash160 of %q", preimage)
	}
}

type sha256Circuit struct {
	Data []frontend.Variable
	Len  frontend.Variable
	Want [32]frontend.Variable
}

func (c *sha256Circuit) Define(api frontend.API) error {
	digest, err := Sha256Bytes(api, c.Data, c.Len)
	if err != nil {
		return err
	}
	for i := range digest {
		api.AssertIsEqual(digest[i], c.Want[i])
	}
	return nil
}

func TestSha256TrailingBytesIgnored(t *testing.T) {
	preimage := []byte("witness script")
	def := &sha256Circuit{Data: make([]frontend.Variable, 48)}
	assign := &sha256Circuit{Data: make([]frontend.Variable, 48)}
	for i := range assign.Data {
		def.Data[i] = 0
		assign.Data[i] = 0
	}
	for i, b := range preimage {
		assign.Data[i] = int(b)
	}
	// Garbage past the length must not reach the digest.
	assign.Data[len(preimage)] = 0xff
	assign.Len = len(preimage)
	for i, b := range chainhash.HashB(preimage) {
		assign.Want[i] = int(b)
	}
	require.NoError(t, test.IsSolved(def, assign, ecc.BN254.ScalarField()))
}

type checkSigCircuit struct {
	Slot    obligation.CheckSigSlot
	W       CheckSigWitness
	Sighash [32]frontend.Variable
}

func (c *checkSigCircuit) Define(api frontend.API) error {
	return DischargeCheckSig(api, &c.Slot, &c.W, c.Sighash[:])
}

func newCheckSigCircuit() *checkSigCircuit {
	return &checkSigCircuit{Slot: obligation.NewCheckSigSlot()}
}

func testSighash() []byte {
	return chainhash.DoubleHashB([]byte("ownership proof sighash fixture"))
}

func signFixture(t *testing.T, priv *btcec.PrivateKey, digest []byte) CheckSigWitness {
	t.Helper()
	sig := btcecdsa.Sign(priv, digest)
	r, s, err := ParseDERSignature(sig.Serialize())
	require.NoError(t, err)
	return NewCheckSigWitness(priv.PubKey(), r, s)
}

func assignCheckSig(t *testing.T, rec obligation.Record, selected bool, w CheckSigWitness, sighash []byte) *checkSigCircuit {
	t.Helper()
	c := newCheckSigCircuit()
	rec.AssignCheckSig(&c.Slot, selected)
	c.W = w
	for i, b := range sighash {
		c.Sighash[i] = int(b)
	}
	return c
}

func TestDischargeCheckSig(t *testing.T) {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x5a}, 32))
	sighash := testSighash()
	rec := obligation.Record{
		Active: true, Reachable: true, Position: 1,
		Key: priv.PubKey().SerializeCompressed(),
	}

	t.Run("valid signature", func(t *testing.T) {
		assign := assignCheckSig(t, rec, true, signFixture(t, priv, sighash), sighash)
		require.NoError(t, test.IsSolved(newCheckSigCircuit(), assign, ecc.BN254.ScalarField()))
	})

	t.Run("uncompressed key", func(t *testing.T) {
		recU := rec
		recU.Key = priv.PubKey().SerializeUncompressed()
		assign := assignCheckSig(t, recU, true, signFixture(t, priv, sighash), sighash)
		require.NoError(t, test.IsSolved(newCheckSigCircuit(), assign, ecc.BN254.ScalarField()))
	})

	t.Run("signature by another key", func(t *testing.T) {
		other, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x77}, 32))
		assign := assignCheckSig(t, rec, true, signFixture(t, other, sighash), sighash)
		require.Error(t, test.IsSolved(newCheckSigCircuit(), assign, ecc.BN254.ScalarField()))
	})

	t.Run("signature over wrong digest", func(t *testing.T) {
		wrong := chainhash.DoubleHashB([]byte("some other transaction"))
		assign := assignCheckSig(t, rec, true, signFixture(t, priv, wrong), sighash)
		require.Error(t, test.IsSolved(newCheckSigCircuit(), assign, ecc.BN254.ScalarField()))
	})

	t.Run("unselected slot masks with dummy tuple", func(t *testing.T) {
		sentinel := obligation.Record{}
		assign := assignCheckSig(t, sentinel, false, DummyCheckSigWitness(), sighash)
		require.NoError(t, test.IsSolved(newCheckSigCircuit(), assign, ecc.BN254.ScalarField()))
	})

	t.Run("selected slot rejects dummy tuple", func(t *testing.T) {
		assign := assignCheckSig(t, rec, true, DummyCheckSigWitness(), sighash)
		require.Error(t, test.IsSolved(newCheckSigCircuit(), assign, ecc.BN254.ScalarField()))
	})
}

func TestParseDERSignature(t *testing.T) {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x31}, 32))
	digest := testSighash()
	sig := btcecdsa.Sign(priv, digest)
	r, s, err := ParseDERSignature(sig.Serialize())
	require.NoError(t, err)
	require.Positive(t, r.Sign())
	require.Positive(t, s.Sign())

	_, _, err = ParseDERSignature([]byte{0x30, 0x01})
	require.Error(t, err)
}
