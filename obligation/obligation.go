// Package obligation collects the cryptographic obligations a script's
// execution trace produces into fixed-capacity, per-kind slot lists, and
// validates the prover's claimed selection of satisfied obligations against
// the trace. The slot lists are the bounded interface between the script
// machine and the expensive discharge gadgets: circuit shape depends only on
// the configured capacities, never on script content.
package obligation

import (
	"fmt"

	"github.com/zkpor/bitcoinvm/interp"
	"github.com/zkpor/bitcoinvm/script"
)

// Capacities bounds the number of obligations of each kind a single circuit
// instantiation can carry. Scripts needing more are unsupported by that
// instantiation.
type Capacities struct {
	CheckSig      int
	CheckMultisig int
	Hash160       int
	Sha256        int
}

// Of returns the capacity for one kind.
func (c Capacities) Of(kind script.Kind) int {
	switch kind {
	case script.KindCheckSig:
		return c.CheckSig
	case script.KindCheckMultisig:
		return c.CheckMultisig
	case script.KindHash160:
		return c.Hash160
	case script.KindSha256:
		return c.Sha256
	}
	return 0
}

// CapacityError reports a script requiring more obligations of one kind than
// the configured capacity permits.
type CapacityError struct {
	Kind     script.Kind
	Count    int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("obligation: script has %d %s obligations, capacity %d",
		e.Count, e.Kind, e.Capacity)
}

// Record is one obligation slot. Position is the byte offset of the opcode
// that produced it, -1 for inactive sentinel slots. Operand fields are set
// only for the record's kind; sentinel slots carry zero operands and never
// require discharge.
type Record struct {
	Kind      script.Kind
	Position  int
	Active    bool
	Reachable bool
	Verify    bool

	// CheckSig: the public-key operand as pushed by the script.
	Key []byte
	// CheckMultisig: keys in script push order and the m-of-n shape.
	Keys [][]byte
	M, N int
	// Hash160/Sha256: preimage operand and its digest.
	Input  []byte
	Digest []byte

	// Claimed boolean result of a signature-check opcode.
	Outcome bool
}

func sentinel(kind script.Kind) Record {
	return Record{Kind: kind, Position: -1}
}

// Set holds the accumulated obligations of one script, each kind padded out
// to its full capacity with sentinel records.
type Set struct {
	CheckSig      []Record
	CheckMultisig []Record
	Hash160       []Record
	Sha256        []Record
	Caps          Capacities
}

// OfKind returns the slot list for one kind.
func (s *Set) OfKind(kind script.Kind) []Record {
	switch kind {
	case script.KindCheckSig:
		return s.CheckSig
	case script.KindCheckMultisig:
		return s.CheckMultisig
	case script.KindHash160:
		return s.Hash160
	case script.KindSha256:
		return s.Sha256
	}
	return nil
}

// ActiveCount returns the number of real (non-sentinel) slots of one kind.
func (s *Set) ActiveCount(kind script.Kind) int {
	n := 0
	for _, rec := range s.OfKind(kind) {
		if rec.Active {
			n++
		}
	}
	return n
}

// Accumulate walks the trace's crypto events in script order and fills the
// per-kind slot lists. Every crypto instruction claims a slot, including
// those on untaken branches (with zero operands and Reachable false), so the
// slot ordinals match the machine's position-determined event ordinals.
// Exceeding any kind's capacity fails with a CapacityError.
func Accumulate(tr *interp.Trace, caps Capacities) (*Set, error) {
	if tr == nil {
		panic("obligation: nil trace")
	}
	set := &Set{Caps: caps}
	for _, ev := range tr.Events {
		rec := Record{
			Kind:      ev.Kind,
			Position:  ev.Position,
			Active:    true,
			Reachable: ev.Reachable,
			Verify:    ev.Verify,
			Outcome:   ev.Outcome,
		}
		switch ev.Kind {
		case script.KindCheckSig:
			rec.Key = ev.Key.Bytes()
		case script.KindCheckMultisig:
			rec.M, rec.N = ev.M, ev.N
			for _, k := range ev.Keys {
				rec.Keys = append(rec.Keys, k.Bytes())
			}
		case script.KindHash160, script.KindSha256:
			rec.Input = ev.Input.Bytes()
			rec.Digest = ev.Output.Bytes()
		default:
			panic(fmt.Sprintf("obligation: unexpected event kind %s", ev.Kind))
		}

		list := set.OfKind(ev.Kind)
		if len(list) >= caps.Of(ev.Kind) {
			return nil, &CapacityError{Kind: ev.Kind, Count: len(list) + 1, Capacity: caps.Of(ev.Kind)}
		}
		switch ev.Kind {
		case script.KindCheckSig:
			set.CheckSig = append(set.CheckSig, rec)
		case script.KindCheckMultisig:
			set.CheckMultisig = append(set.CheckMultisig, rec)
		case script.KindHash160:
			set.Hash160 = append(set.Hash160, rec)
		case script.KindSha256:
			set.Sha256 = append(set.Sha256, rec)
		}
	}

	for len(set.CheckSig) < caps.CheckSig {
		set.CheckSig = append(set.CheckSig, sentinel(script.KindCheckSig))
	}
	for len(set.CheckMultisig) < caps.CheckMultisig {
		set.CheckMultisig = append(set.CheckMultisig, sentinel(script.KindCheckMultisig))
	}
	for len(set.Hash160) < caps.Hash160 {
		set.Hash160 = append(set.Hash160, sentinel(script.KindHash160))
	}
	for len(set.Sha256) < caps.Sha256 {
		set.Sha256 = append(set.Sha256, sentinel(script.KindSha256))
	}
	return set, nil
}
