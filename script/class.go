package script

// ScriptClass is the standard-template classification of a locking script.
type ScriptClass byte

const (
	NonStandardTy ScriptClass = iota
	PubKeyTy
	PubKeyHashTy
	ScriptHashTy
	MultiSigTy
	WitnessV0PubKeyHashTy
	WitnessV0ScriptHashTy
)

var scriptClassToName = []string{
	NonStandardTy:         "nonstandard",
	PubKeyTy:              "pubkey",
	PubKeyHashTy:          "pubkeyhash",
	ScriptHashTy:          "scripthash",
	MultiSigTy:            "multisig",
	WitnessV0PubKeyHashTy: "witness_v0_keyhash",
	WitnessV0ScriptHashTy: "witness_v0_scripthash",
}

func (t ScriptClass) String() string {
	if int(t) >= len(scriptClassToName) {
		return "invalid"
	}
	return scriptClassToName[t]
}

// ExtractPubKey returns the serialized public key of a pay-to-pubkey script
// (<33- or 65-byte key> OP_CHECKSIG), or nil.
func ExtractPubKey(script []byte) []byte {
	if len(script) == 35 && script[0] == OP_DATA_33 &&
		script[34] == OP_CHECKSIG &&
		(script[1] == 0x02 || script[1] == 0x03) {
		return script[1:34]
	}
	if len(script) == 67 && script[0] == OP_DATA_65 &&
		script[66] == OP_CHECKSIG && script[1] == 0x04 {
		return script[1:66]
	}
	return nil
}

// ExtractPubKeyHash returns the 20-byte hash of a pay-to-pubkey-hash script
// (OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY OP_CHECKSIG), or nil.
func ExtractPubKeyHash(script []byte) []byte {
	if len(script) == 25 && script[0] == OP_DUP && script[1] == OP_HASH160 &&
		script[2] == OP_DATA_20 && script[23] == OP_EQUALVERIFY &&
		script[24] == OP_CHECKSIG {
		return script[3:23]
	}
	return nil
}

// ExtractScriptHash returns the 20-byte hash of a pay-to-script-hash script
// (OP_HASH160 <hash> OP_EQUAL), or nil.
func ExtractScriptHash(script []byte) []byte {
	if len(script) == 23 && script[0] == OP_HASH160 &&
		script[1] == OP_DATA_20 && script[22] == OP_EQUAL {
		return script[2:22]
	}
	return nil
}

// ExtractWitnessProgram returns the version and program of a segregated
// witness script (version opcode plus a 2- to 40-byte program push). Only
// version 0 programs of 20 or 32 bytes are standard; the caller classifies.
func ExtractWitnessProgram(script []byte) (version int, program []byte) {
	if len(script) < 4 || len(script) > 42 {
		return -1, nil
	}
	if script[0] != OP_0 && (script[0] < OP_1 || script[0] > OP_16) {
		return -1, nil
	}
	n := int(script[1])
	if n < 2 || n > 40 || n != len(script)-2 {
		return -1, nil
	}
	if script[0] == OP_0 {
		version = 0
	} else {
		version = AsSmallInt(script[0])
	}
	return version, script[2:]
}

// MultiSigDetails holds the parts of a bare multisig locking script.
type MultiSigDetails struct {
	M       int
	N       int
	PubKeys [][]byte
	Valid   bool
}

// ExtractMultiSigDetails parses OP_m <key>... OP_n OP_CHECKMULTISIG. Keys
// must be canonical 33- or 65-byte pushes and m <= n.
func ExtractMultiSigDetails(script []byte) MultiSigDetails {
	if len(script) < 3 || script[len(script)-1] != OP_CHECKMULTISIG {
		return MultiSigDetails{}
	}
	if !IsSmallInt(script[0]) || script[0] == OP_0 {
		return MultiSigDetails{}
	}
	m := AsSmallInt(script[0])

	var keys [][]byte
	i := 1
keyLoop:
	for i < len(script)-2 {
		var keyLen int
		switch script[i] {
		case OP_DATA_33:
			keyLen = 33
		case OP_DATA_65:
			keyLen = 65
		default:
			break keyLoop
		}
		if i+1+keyLen > len(script)-2 {
			return MultiSigDetails{}
		}
		keys = append(keys, script[i+1:i+1+keyLen])
		i += 1 + keyLen
	}
	if i != len(script)-2 {
		return MultiSigDetails{}
	}
	nOp := script[len(script)-2]
	if !IsSmallInt(nOp) || nOp == OP_0 {
		return MultiSigDetails{}
	}
	n := AsSmallInt(nOp)
	if n != len(keys) || m > n {
		return MultiSigDetails{}
	}
	return MultiSigDetails{M: m, N: n, PubKeys: keys, Valid: true}
}

// ClassifyScript returns the standard-template class of a locking script,
// NonStandardTy if it matches none.
func ClassifyScript(script []byte) ScriptClass {
	if ExtractPubKey(script) != nil {
		return PubKeyTy
	}
	if ExtractPubKeyHash(script) != nil {
		return PubKeyHashTy
	}
	if ExtractScriptHash(script) != nil {
		return ScriptHashTy
	}
	if ExtractMultiSigDetails(script).Valid {
		return MultiSigTy
	}
	if version, program := ExtractWitnessProgram(script); version == 0 {
		switch len(program) {
		case 20:
			return WitnessV0PubKeyHashTy
		case 32:
			return WitnessV0ScriptHashTy
		}
	}
	return NonStandardTy
}
