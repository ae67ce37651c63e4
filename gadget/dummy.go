package gadget

import (
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Unselected signature slots still instantiate the ECDSA gadget, which
// asserts unconditionally; they are masked by assigning a fixed valid
// tuple and steering the message select away from the real sighash. The
// tuple is the k=1, d=2 signature over the digest z=1:
//
//	Q = 2G, r = Gx mod n, s = z + r·d = 1 + 2r
//
// which verifies because u1·G + u2·Q = ((z + 2r)/s)·G = G. The key must
// differ from the base point: the in-circuit scalar multiplication uses
// incomplete addition and Q = G would put it on the doubling case.
var (
	dummyMsg  = big.NewInt(1)
	dummyPubX *big.Int
	dummyPubY *big.Int
	dummySigR *big.Int
	dummySigS *big.Int
)

func init() {
	params := btcec.S256().Params()
	dummyPubX, dummyPubY = btcec.S256().ScalarBaseMult(big.NewInt(2).Bytes())
	dummySigR = new(big.Int).Mod(params.Gx, params.N)
	s := new(big.Int).Lsh(dummySigR, 1)
	s.Add(s, dummyMsg)
	dummySigS = s.Mod(s, params.N)
}
