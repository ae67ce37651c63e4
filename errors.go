package bitcoinvm

import "fmt"

// Stage names one phase of the instance construction pipeline. Instances
// move strictly forward; a failure pins the instance to the stage that
// rejected it.
type Stage uint8

const (
	StageDecoding Stage = iota
	StageSimulating
	StageAccumulating
	StageDischarging
	StageAssembled
)

var stageNames = []string{"decoding", "simulating", "accumulating", "discharging", "assembled"}

func (s Stage) String() string {
	if int(s) >= len(stageNames) {
		return "invalid"
	}
	return stageNames[s]
}

// ConstructionError wraps the failure that stopped an instance pipeline,
// tagged with the stage it occurred in.
type ConstructionError struct {
	Stage Stage
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("bitcoinvm: %s: %v", e.Stage, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &ConstructionError{Stage: stage, Err: err}
}

// GadgetError reports a cryptographic witness that fails its host-side
// check before proving: a signature that does not verify against its slot's
// key and sighash, or a preimage that does not hash to its digest. Catching
// these on the host turns an unprovable witness into a typed error instead
// of a solver failure.
type GadgetError struct {
	Kind   string
	Slot   int
	Reason string
}

func (e *GadgetError) Error() string {
	return fmt.Sprintf("bitcoinvm: gadget verification failed: %s slot %d: %s", e.Kind, e.Slot, e.Reason)
}
