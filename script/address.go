package script

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// ExtractAddress maps a standard locking script to its address on the given
// network. Bare multisig and nonstandard scripts have no single address and
// return an error.
func ExtractAddress(scriptBytes []byte, net *chaincfg.Params) (btcutil.Address, error) {
	switch ClassifyScript(scriptBytes) {
	case PubKeyTy:
		return btcutil.NewAddressPubKey(ExtractPubKey(scriptBytes), net)
	case PubKeyHashTy:
		return btcutil.NewAddressPubKeyHash(ExtractPubKeyHash(scriptBytes), net)
	case ScriptHashTy:
		return btcutil.NewAddressScriptHashFromHash(ExtractScriptHash(scriptBytes), net)
	case WitnessV0PubKeyHashTy:
		_, program := ExtractWitnessProgram(scriptBytes)
		return btcutil.NewAddressWitnessPubKeyHash(program, net)
	case WitnessV0ScriptHashTy:
		_, program := ExtractWitnessProgram(scriptBytes)
		return btcutil.NewAddressWitnessScriptHash(program, net)
	}
	return nil, fmt.Errorf("script: no canonical address for class %s", ClassifyScript(scriptBytes))
}
