package bitcoinvm

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/logger"
	"golang.org/x/sync/errgroup"
)

// Compile builds the constraint system for the geometry p on BN254.
func Compile(p Params) (constraint.ConstraintSystem, error) {
	circuit, err := NewCircuit(p)
	if err != nil {
		return nil, err
	}
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("bitcoinvm: compile: %w", err)
	}
	return cs, nil
}

// System bundles one compiled circuit with its proving and verifying keys.
type System struct {
	Params Params
	CS     constraint.ConstraintSystem
	PK     groth16.ProvingKey
	VK     groth16.VerifyingKey
}

// NewSystem compiles the circuit for p and runs the trusted setup.
func NewSystem(p Params) (*System, error) {
	log := logger.Logger().With().Str("component", "bitcoinvm").Logger()
	fp, err := p.FingerprintHex()
	if err != nil {
		return nil, err
	}
	cs, err := Compile(p)
	if err != nil {
		return nil, err
	}
	log.Info().Str("fingerprint", fp).Int("constraints", cs.GetNbConstraints()).Msg("circuit compiled")
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, fmt.Errorf("bitcoinvm: setup: %w", err)
	}
	return &System{Params: p, CS: cs, PK: pk, VK: vk}, nil
}

// Prove generates a proof for an assembled instance and returns it with the
// public witness the verifier needs.
func (s *System) Prove(inst *Instance) (groth16.Proof, witness.Witness, error) {
	assignment, err := inst.Assignment()
	if err != nil {
		return nil, nil, err
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, fmt.Errorf("bitcoinvm: witness: %w", err)
	}
	pub, err := w.Public()
	if err != nil {
		return nil, nil, fmt.Errorf("bitcoinvm: public witness: %w", err)
	}
	proof, err := groth16.Prove(s.CS, s.PK, w)
	if err != nil {
		return nil, nil, fmt.Errorf("bitcoinvm: prove: %w", err)
	}
	return proof, pub, nil
}

// ProveMany proves a batch of instances concurrently.
func (s *System) ProveMany(insts []*Instance) ([]groth16.Proof, error) {
	proofs := make([]groth16.Proof, len(insts))
	var g errgroup.Group
	for i, inst := range insts {
		i, inst := i, inst
		g.Go(func() error {
			proof, _, err := s.Prove(inst)
			if err != nil {
				return fmt.Errorf("instance %d: %w", i, err)
			}
			proofs[i] = proof
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return proofs, nil
}

// Verify checks a proof against a script commitment and sighash.
func (s *System) Verify(proof groth16.Proof, commitment, sighash [32]byte) error {
	pub, err := PublicWitness(s.Params, commitment, sighash)
	if err != nil {
		return err
	}
	if err := groth16.Verify(proof, s.VK, pub); err != nil {
		return fmt.Errorf("bitcoinvm: verify: %w", err)
	}
	return nil
}

// PublicWitness builds the verifier-side witness for a commitment and
// sighash pair.
func PublicWitness(p Params, commitment, sighash [32]byte) (witness.Witness, error) {
	c, err := NewCircuit(p)
	if err != nil {
		return nil, err
	}
	for j := 0; j < 32; j++ {
		c.Commitment[j] = commitment[j]
		c.Sighash[j] = sighash[j]
	}
	w, err := frontend.NewWitness(c, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return nil, fmt.Errorf("bitcoinvm: public witness: %w", err)
	}
	return w, nil
}
