package interp

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/zkpor/bitcoinvm/script"
)

// Limits bounds the simulated machine. The same bounds shape the circuit,
// so exceeding them is not a recoverable condition but a statement that the
// script cannot be proven under this configuration.
type Limits struct {
	MaxStackDepth     int
	MaxWitnessElems   int
	MaxWitnessElemLen int
	MaxMultisigKeys   int
}

// OutcomeFunc decides the claimed result of a reachable signature-check
// event, typically from which private keys the prover holds. A nil func
// claims success everywhere.
type OutcomeFunc func(ev *Event) bool

// WitnessStackError reports an initial stack outside the configured bounds.
type WitnessStackError struct {
	Reason string
}

func (e *WitnessStackError) Error() string {
	return "interp: witness stack: " + e.Reason
}

// ConditionalError reports conditional nesting or balance the supported
// combinator subset excludes.
type ConditionalError struct {
	Position int
	Reason   string
}

func (e *ConditionalError) Error() string {
	if e.Position < 0 {
		return "interp: " + e.Reason
	}
	return fmt.Sprintf("interp: %s at position %d", e.Reason, e.Position)
}

// NonCanonicalBoolError reports an element consumed as a boolean whose
// consensus truthiness the circuit's arithmetic rendering cannot reproduce
// (for branch conditions, any element other than empty or 0x01).
type NonCanonicalBoolError struct {
	Position int
}

func (e *NonCanonicalBoolError) Error() string {
	if e.Position < 0 {
		return "interp: final stack element is not a canonical boolean"
	}
	return fmt.Sprintf("interp: non-canonical boolean consumed at position %d", e.Position)
}

// MultisigShapeError reports OP_CHECKMULTISIG key and signature counts that
// are absent, non-minimal, or outside the configured key bound.
type MultisigShapeError struct {
	Position int
	Reason   string
}

func (e *MultisigShapeError) Error() string {
	return fmt.Sprintf("interp: checkmultisig at position %d: %s", e.Position, e.Reason)
}

type machine struct {
	stack Snapshot
	lim   Limits
	fault *Fault
}

func (m *machine) need(k, pos int, op byte) bool {
	if m.fault != nil {
		return false
	}
	if len(m.stack) < k {
		m.fault = &Fault{Kind: FaultUnderflow, Position: pos, Opcode: op, Depth: len(m.stack)}
		return false
	}
	return true
}

func (m *machine) push(e Element, pos int, op byte) bool {
	if m.fault != nil {
		return false
	}
	if len(m.stack)+1 > m.lim.MaxStackDepth {
		m.fault = &Fault{Kind: FaultOverflow, Position: pos, Opcode: op, Depth: len(m.stack) + 1}
		return false
	}
	m.stack = append(m.stack, e)
	return true
}

func (m *machine) pop() Element {
	e := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return e
}

// Run replays the program over the given initial (witness) stack. Stack
// faults are represented in the returned trace, not as errors: a faulted
// script is simply unsatisfiable. Errors are reserved for script forms the
// circuit family does not support at all.
func Run(p *script.Program, witness []Element, lim Limits, outcome OutcomeFunc) (*Trace, error) {
	if p == nil {
		panic("interp: nil program")
	}
	if lim.MaxStackDepth <= 0 {
		panic("interp: non-positive stack depth bound")
	}
	if len(witness) > lim.MaxWitnessElems {
		return nil, &WitnessStackError{Reason: fmt.Sprintf("%d elements exceed bound %d", len(witness), lim.MaxWitnessElems)}
	}
	for i, e := range witness {
		if e.Len() > lim.MaxWitnessElemLen {
			return nil, &WitnessStackError{Reason: fmt.Sprintf("element %d is %d bytes, bound %d", i, e.Len(), lim.MaxWitnessElemLen)}
		}
	}
	if outcome == nil {
		outcome = func(*Event) bool { return true }
	}

	tr := &Trace{
		Program:   p,
		Witness:   append([]Element(nil), witness...),
		Before:    make([]Snapshot, len(p.Records)),
		After:     make([]Snapshot, len(p.Records)),
		Reachable: make([]bool, len(p.Records)),
		ScriptOK:  true,
	}
	m := &machine{stack: Snapshot(witness).clone(), lim: lim}

	var inIf, inElse, taken bool
	for i, rec := range p.Records {
		tr.Before[i] = m.stack.clone()

		exec := true
		if inIf {
			if inElse {
				exec = !taken
			} else {
				exec = taken
			}
		}
		tr.Reachable[i] = exec && rec.Position >= 0 && m.fault == nil

		if m.fault != nil {
			tr.After[i] = m.stack.clone()
			continue
		}

		switch rec.Opcode {
		case script.OP_IF:
			if inIf {
				return nil, &ConditionalError{Position: rec.Position, Reason: "nested conditional"}
			}
			if !m.need(1, rec.Position, rec.Opcode) {
				break
			}
			cond := m.pop()
			if !cond.IsMinimalIf() {
				return nil, &NonCanonicalBoolError{Position: rec.Position}
			}
			taken = cond.ConsensusBool()
			inIf, inElse = true, false

		case script.OP_ELSE:
			if !inIf || inElse {
				return nil, &ConditionalError{Position: rec.Position, Reason: "unbalanced OP_ELSE"}
			}
			inElse = true

		case script.OP_ENDIF:
			if !inIf {
				return nil, &ConditionalError{Position: rec.Position, Reason: "unbalanced OP_ENDIF"}
			}
			inIf, inElse = false, false

		default:
			if !exec {
				// Skipped instructions leave the stack alone, but crypto
				// opcodes still claim an accumulator slot so slot counts
				// stay position-determined.
				if rec.Class == script.ClassCrypto {
					tr.Events = append(tr.Events, Event{
						Index:    i,
						Position: rec.Position,
						Kind:     rec.Kind,
						Verify:   script.IsVerify(rec.Opcode),
					})
				}
				break
			}
			if err := step(m, tr, i, rec, outcome); err != nil {
				return nil, err
			}
		}
		tr.After[i] = m.stack.clone()
	}

	if inIf && m.fault == nil {
		return nil, &ConditionalError{Position: -1, Reason: "unterminated conditional"}
	}

	if m.fault == nil {
		if top, ok := m.stack.Top(); ok {
			if !top.BoolCanonical() {
				return nil, &NonCanonicalBoolError{Position: -1}
			}
			tr.FinalTruthy = top.ConsensusBool()
		}
	}
	tr.Fault = m.fault
	return tr, nil
}

// step executes one reachable non-conditional instruction.
func step(m *machine, tr *Trace, i int, rec script.Record, outcome OutcomeFunc) error {
	pos, op := rec.Position, rec.Opcode
	switch {
	case rec.Class == script.ClassPush:
		var e Element
		switch {
		case op == script.OP_0:
			e = Element{}
		case script.IsSmallInt(op):
			e = NewElement([]byte{byte(script.AsSmallInt(op))})
		default:
			e = NewElement(rec.Immediate)
		}
		m.push(e, pos, op)

	case op == script.OP_NOP:

	case op == script.OP_VERIFY:
		if !m.need(1, pos, op) {
			break
		}
		v := m.pop()
		if !v.BoolCanonical() {
			return &NonCanonicalBoolError{Position: pos}
		}
		tr.ScriptOK = tr.ScriptOK && v.ConsensusBool()

	case op == script.OP_DUP:
		if !m.need(1, pos, op) {
			break
		}
		top := m.stack[len(m.stack)-1]
		m.push(top, pos, op)

	case op == script.OP_DROP:
		if !m.need(1, pos, op) {
			break
		}
		m.pop()

	case op == script.OP_SWAP:
		if !m.need(2, pos, op) {
			break
		}
		n := len(m.stack)
		m.stack[n-1], m.stack[n-2] = m.stack[n-2], m.stack[n-1]

	case op == script.OP_EQUAL, op == script.OP_EQUALVERIFY:
		if !m.need(2, pos, op) {
			break
		}
		a, b := m.pop(), m.pop()
		eq := a.Equal(b)
		if op == script.OP_EQUAL {
			m.push(boolElement(eq), pos, op)
		} else {
			tr.ScriptOK = tr.ScriptOK && eq
		}

	case op == script.OP_BOOLAND, op == script.OP_BOOLOR:
		if !m.need(2, pos, op) {
			break
		}
		a, b := m.pop(), m.pop()
		if !a.BoolCanonical() || !b.BoolCanonical() {
			return &NonCanonicalBoolError{Position: pos}
		}
		var v bool
		if op == script.OP_BOOLAND {
			v = a.ConsensusBool() && b.ConsensusBool()
		} else {
			v = a.ConsensusBool() || b.ConsensusBool()
		}
		m.push(boolElement(v), pos, op)

	case op == script.OP_SHA256, op == script.OP_HASH160:
		if !m.need(1, pos, op) {
			break
		}
		in := m.pop()
		var digest []byte
		if op == script.OP_SHA256 {
			digest = chainhash.HashB(in.Bytes())
		} else {
			digest = btcutil.Hash160(in.Bytes())
		}
		out := NewElement(digest)
		if !m.push(out, pos, op) {
			break
		}
		tr.Events = append(tr.Events, Event{
			Index: i, Position: pos, Kind: rec.Kind, Reachable: true,
			Input: in, Output: out,
		})

	case op == script.OP_CHECKSIG, op == script.OP_CHECKSIGVERIFY:
		if !m.need(2, pos, op) {
			break
		}
		key := m.pop()
		m.pop() // signature placeholder; signatures enter via discharge witnesses
		ev := Event{
			Index: i, Position: pos, Kind: rec.Kind, Reachable: true,
			Verify: script.IsVerify(op), Key: key,
		}
		ev.Outcome = outcome(&ev)
		tr.Events = append(tr.Events, ev)
		if ev.Verify {
			tr.ScriptOK = tr.ScriptOK && ev.Outcome
		} else {
			m.push(boolElement(ev.Outcome), pos, op)
		}

	case op == script.OP_CHECKMULTISIG, op == script.OP_CHECKMULTISIGVERIFY:
		if !m.need(1, pos, op) {
			break
		}
		n, ok := m.pop().SmallInt()
		if !ok || n < 1 || n > m.lim.MaxMultisigKeys {
			return &MultisigShapeError{Position: pos, Reason: fmt.Sprintf("key count must be a minimal integer in 1..%d", m.lim.MaxMultisigKeys)}
		}
		if !m.need(n, pos, op) {
			break
		}
		keys := make([]Element, n)
		for t := n - 1; t >= 0; t-- {
			keys[t] = m.pop() // top of stack is the last key pushed
		}
		if !m.need(1, pos, op) {
			break
		}
		mm, ok := m.pop().SmallInt()
		if !ok || mm < 1 || mm > n {
			return &MultisigShapeError{Position: pos, Reason: fmt.Sprintf("signature count must be a minimal integer in 1..%d", n)}
		}
		if !m.need(mm+1, pos, op) {
			break
		}
		for t := 0; t < mm; t++ {
			m.pop() // signature placeholders
		}
		m.pop() // the historical extra element
		ev := Event{
			Index: i, Position: pos, Kind: rec.Kind, Reachable: true,
			Verify: script.IsVerify(op), Keys: keys, M: mm, N: n,
		}
		ev.Outcome = outcome(&ev)
		tr.Events = append(tr.Events, ev)
		if ev.Verify {
			tr.ScriptOK = tr.ScriptOK && ev.Outcome
		} else {
			m.push(boolElement(ev.Outcome), pos, op)
		}

	default:
		panic(fmt.Sprintf("interp: unhandled opcode %s", script.OpcodeName(op)))
	}
	return nil
}
