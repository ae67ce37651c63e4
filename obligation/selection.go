package obligation

import (
	"fmt"

	"github.com/zkpor/bitcoinvm/interp"
	"github.com/zkpor/bitcoinvm/script"
)

// Selection is the prover's private claim of which signature obligations it
// satisfies. Hash obligations are not selectable: every active, reachable
// hash slot is discharged unconditionally, otherwise the witnessed digest
// would be an unverified hint the prover could use to forge equality
// comparisons.
type Selection struct {
	CheckSig      []bool
	CheckMultisig []bool
	// KeyUse marks, per selected multisig slot, which of the slot's n keys
	// carry a signature; exactly m bits are set on a selected slot.
	KeyUse [][]bool
}

// SelectionError reports a selection the discharge constraints would reject:
// selecting a sentinel or unreachable slot, a multisig key-use shape not
// matching the slot, or a selection that does not make the script evaluate
// true.
type SelectionError struct {
	Kind   script.Kind
	Slot   int
	Reason string
}

func (e *SelectionError) Error() string {
	if e.Slot < 0 {
		return "obligation: selection: " + e.Reason
	}
	return fmt.Sprintf("obligation: selection: %s slot %d: %s", e.Kind, e.Slot, e.Reason)
}

// FromOutcomes derives the selection matching the claimed outcomes already
// recorded in the set: a signature slot is selected exactly when its opcode
// claimed success. Multisig key-use bits must be assigned afterwards by the
// caller, who knows which keys it holds.
func FromOutcomes(set *Set) *Selection {
	sel := &Selection{
		CheckSig:      make([]bool, len(set.CheckSig)),
		CheckMultisig: make([]bool, len(set.CheckMultisig)),
		KeyUse:        make([][]bool, len(set.CheckMultisig)),
	}
	for i, rec := range set.CheckSig {
		sel.CheckSig[i] = rec.Active && rec.Outcome
	}
	for i, rec := range set.CheckMultisig {
		sel.CheckMultisig[i] = rec.Active && rec.Outcome
		sel.KeyUse[i] = make([]bool, len(rec.Keys))
	}
	return sel
}

// Validate checks the structural selection rules the circuit enforces and
// re-derives script truth under the selection. tr must be the trace the set
// was accumulated from. The rules:
//
//   - a selected slot must be active and reachable;
//   - a signature slot's claimed outcome must equal its selected bit;
//   - a selected multisig slot's key-use bits must cover exactly m of its
//     first n key positions;
//   - the claimed outcomes, replayed over the script, must make it evaluate
//     true (every VERIFY passes and the final element is truthy).
func Validate(sel *Selection, set *Set, tr *interp.Trace) error {
	if len(sel.CheckSig) != len(set.CheckSig) || len(sel.CheckMultisig) != len(set.CheckMultisig) {
		return &SelectionError{Slot: -1, Reason: "selection shape does not match slot capacities"}
	}

	for i, on := range sel.CheckSig {
		rec := set.CheckSig[i]
		switch {
		case on && !rec.Active:
			return &SelectionError{Kind: script.KindCheckSig, Slot: i, Reason: "selects a sentinel slot"}
		case on && !rec.Reachable:
			return &SelectionError{Kind: script.KindCheckSig, Slot: i, Reason: "selects an unreachable slot"}
		case on != rec.Outcome && rec.Active:
			return &SelectionError{Kind: script.KindCheckSig, Slot: i, Reason: "claimed outcome disagrees with selection"}
		}
	}

	for i, on := range sel.CheckMultisig {
		rec := set.CheckMultisig[i]
		switch {
		case on && !rec.Active:
			return &SelectionError{Kind: script.KindCheckMultisig, Slot: i, Reason: "selects a sentinel slot"}
		case on && !rec.Reachable:
			return &SelectionError{Kind: script.KindCheckMultisig, Slot: i, Reason: "selects an unreachable slot"}
		case rec.Active && on != rec.Outcome:
			return &SelectionError{Kind: script.KindCheckMultisig, Slot: i, Reason: "claimed outcome disagrees with selection"}
		}
		used := 0
		for t, u := range sel.KeyUse[i] {
			if !u {
				continue
			}
			if !on {
				return &SelectionError{Kind: script.KindCheckMultisig, Slot: i, Reason: "key use on an unselected slot"}
			}
			if t >= rec.N {
				return &SelectionError{Kind: script.KindCheckMultisig, Slot: i, Reason: fmt.Sprintf("key use at position %d beyond n=%d", t, rec.N)}
			}
			used++
		}
		if on && used != rec.M {
			return &SelectionError{Kind: script.KindCheckMultisig, Slot: i,
				Reason: fmt.Sprintf("%d keys used, slot requires m=%d", used, rec.M)}
		}
	}

	if !tr.Valid() {
		return &SelectionError{Slot: -1, Reason: "claimed outcomes do not make the script evaluate true"}
	}
	return nil
}
