package obligation

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
)

func assignBytes(dst []frontend.Variable, src []byte, what string) {
	if len(src) > len(dst) {
		panic(fmt.Sprintf("obligation: %s is %d bytes, slot width %d", what, len(src), len(dst)))
	}
	for i := range dst {
		if i < len(src) {
			dst[i] = int(src[i])
		} else {
			dst[i] = 0
		}
	}
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}

func posVar(p int) int {
	if p < 0 {
		return 0
	}
	return p
}

// AssignCheckSig fills a slot assignment from the record. selected must have
// passed Validate for the containing set.
func (rec *Record) AssignCheckSig(slot *CheckSigSlot, selected bool) {
	slot.Active = b2i(rec.Active)
	slot.Reachable = b2i(rec.Reachable)
	slot.Selected = b2i(selected)
	slot.Position = posVar(rec.Position)
	assignBytes(slot.Key, rec.Key, "public key")
	slot.KeyLen = len(rec.Key)
}

// AssignMultisig fills a slot assignment from the record and its key-use
// bits.
func (rec *Record) AssignMultisig(slot *MultisigSlot, selected bool, keyUse []bool) {
	slot.Active = b2i(rec.Active)
	slot.Reachable = b2i(rec.Reachable)
	slot.Selected = b2i(selected)
	slot.Position = posVar(rec.Position)
	slot.M = rec.M
	slot.N = rec.N
	for t := range slot.Keys {
		var key []byte
		if t < len(rec.Keys) {
			key = rec.Keys[t]
		}
		assignBytes(slot.Keys[t], key, "multisig key")
		slot.KeyLens[t] = len(key)
		use := false
		if t < len(keyUse) {
			use = keyUse[t]
		}
		slot.KeyUse[t] = b2i(use)
	}
}

// AssignHash fills a hash slot assignment from the record.
func (rec *Record) AssignHash(slot *HashSlot) {
	slot.Active = b2i(rec.Active)
	slot.Reachable = b2i(rec.Reachable)
	slot.Position = posVar(rec.Position)
	assignBytes(slot.Input, rec.Input, "hash preimage")
	slot.InputLen = len(rec.Input)
	assignBytes(slot.Digest, rec.Digest, "hash digest")
}
