// Package test provides deterministic fixtures for circuit and pipeline
// tests: reproducible keys, sighashes, and builders for the standard
// locking-script templates.
package test

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zkpor/bitcoinvm/script"
)

// Key derives a deterministic private key from a one-byte seed.
func Key(seed byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv
}

// Sighash derives a deterministic 32-byte transaction digest from a tag.
func Sighash(tag string) [32]byte {
	return sha256.Sum256([]byte("sighash/" + tag))
}

// SignDER signs a sighash with priv and returns the DER encoding.
func SignDER(priv *btcec.PrivateKey, sighash [32]byte) []byte {
	return btcecdsa.Sign(priv, sighash[:]).Serialize()
}

func mustScript(b *script.ScriptBuilder) []byte {
	raw, err := b.Script()
	if err != nil {
		panic(fmt.Sprintf("test: building fixture script: %v", err))
	}
	return raw
}

// P2PK builds <pubkey> OP_CHECKSIG.
func P2PK(pub []byte) []byte {
	return mustScript(script.NewScriptBuilder().AddData(pub).AddOp(script.OP_CHECKSIG))
}

// P2PKH builds OP_DUP OP_HASH160 <hash160(pubkey)> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKH(pub []byte) []byte {
	return mustScript(script.NewScriptBuilder().
		AddOp(script.OP_DUP).AddOp(script.OP_HASH160).
		AddData(btcutil.Hash160(pub)).
		AddOp(script.OP_EQUALVERIFY).AddOp(script.OP_CHECKSIG))
}

// Multisig builds m <keys...> n OP_CHECKMULTISIG.
func Multisig(m int, pubs ...[]byte) []byte {
	b := script.NewScriptBuilder().AddInt64(int64(m))
	for _, pub := range pubs {
		b.AddData(pub)
	}
	return mustScript(b.AddInt64(int64(len(pubs))).AddOp(script.OP_CHECKMULTISIG))
}

// P2SH builds the script-hash locking script for a redeem script.
func P2SH(redeem []byte) []byte {
	return mustScript(script.NewScriptBuilder().
		AddOp(script.OP_HASH160).AddData(btcutil.Hash160(redeem)).AddOp(script.OP_EQUAL))
}

// P2WPKH builds the version-0 key-hash locking script for a public key.
func P2WPKH(pub []byte) []byte {
	return mustScript(script.NewScriptBuilder().
		AddOp(script.OP_0).AddData(btcutil.Hash160(pub)))
}

// P2WSH builds the version-0 script-hash locking script for a witness
// script.
func P2WSH(witnessScript []byte) []byte {
	return mustScript(script.NewScriptBuilder().
		AddOp(script.OP_0).AddData(chainhash.HashB(witnessScript)))
}

// HashLock builds OP_SHA256 <sha256(secret)> OP_EQUAL.
func HashLock(secret []byte) []byte {
	digest := sha256.Sum256(secret)
	return mustScript(script.NewScriptBuilder().
		AddOp(script.OP_SHA256).AddData(digest[:]).AddOp(script.OP_EQUAL))
}
