package interp

import (
	"fmt"

	"github.com/zkpor/bitcoinvm/script"
)

// Snapshot is the stack at one point of execution, bottom first.
type Snapshot []Element

// Top returns the top element; ok is false on an empty stack.
func (s Snapshot) Top() (Element, bool) {
	if len(s) == 0 {
		return Element{}, false
	}
	return s[len(s)-1], true
}

func (s Snapshot) clone() Snapshot {
	return append(Snapshot(nil), s...)
}

// Event is one cryptographic opcode occurrence. Events are emitted for
// every crypto-class instruction, including those on untaken branches; the
// latter carry Reachable false and zero operands so accumulator slot counts
// stay position-determined.
type Event struct {
	Index     int // instruction slot
	Position  int // byte offset in the script
	Kind      script.Kind
	Reachable bool
	Verify    bool // result asserted rather than pushed

	// CheckSig: the public-key operand. CheckMultisig: unused.
	Key Element
	// CheckMultisig: keys in script push order, and the m-of-n shape.
	Keys []Element
	M, N int
	// Hash160/Sha256: preimage operand and computed digest.
	Input  Element
	Output Element

	// Claimed result of a signature-check opcode; irrelevant for hashes.
	Outcome bool
}

// FaultKind says how simulated execution exceeded the stack bounds.
type FaultKind uint8

const (
	FaultUnderflow FaultKind = iota + 1
	FaultOverflow
)

func (k FaultKind) String() string {
	switch k {
	case FaultUnderflow:
		return "underflow"
	case FaultOverflow:
		return "overflow"
	}
	return "fault"
}

// Fault marks a script whose execution pops an empty stack or exceeds the
// depth bound. Such a script is unconditionally unsatisfiable: the circuit
// enforces the same bounds, so no witness exists for it.
type Fault struct {
	Kind     FaultKind
	Position int
	Opcode   byte
	Depth    int
}

func (f *Fault) String() string {
	return fmt.Sprintf("stack %s at position %d (%s, depth %d)",
		f.Kind, f.Position, script.OpcodeName(f.Opcode), f.Depth)
}

// Trace is the complete record of one simulated execution.
type Trace struct {
	Program *script.Program
	Witness []Element

	// Before and After hold the stack around each instruction slot,
	// including sentinel padding slots (which leave it unchanged).
	Before []Snapshot
	After  []Snapshot
	// Reachable marks instruction slots that execute (true outside
	// conditionals and on taken branches).
	Reachable []bool
	Events    []Event

	// ScriptOK is the conjunction of every reachable VERIFY-family check.
	ScriptOK bool
	// FinalTruthy is the consensus truthiness of the final top element.
	FinalTruthy bool
	Fault       *Fault
}

// Valid reports whether the simulated execution satisfies the script: no
// stack fault, every VERIFY passed, and a truthy final top element.
func (tr *Trace) Valid() bool {
	return tr.Fault == nil && tr.ScriptOK && tr.FinalTruthy
}

// EventsOfKind returns the events of one obligation kind in script order.
func (tr *Trace) EventsOfKind(kind script.Kind) []Event {
	var out []Event
	for _, ev := range tr.Events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
