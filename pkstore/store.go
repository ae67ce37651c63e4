// Package pkstore caches compiled proving artifacts on disk, keyed by the
// parameter fingerprint. Groth16 setup dominates startup cost; a warm cache
// reduces it to three deserializations.
package pkstore

import (
	"bytes"
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketCS = []byte("constraint_systems")
	bucketPK = []byte("proving_keys")
	bucketVK = []byte("verifying_keys")
)

// Artifacts is one cached compile+setup result.
type Artifacts struct {
	CS constraint.ConstraintSystem
	PK groth16.ProvingKey
	VK groth16.VerifyingKey
}

// Store is a bbolt-backed artifact cache.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the cache file.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("pkstore: open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCS, bucketPK, bucketVK} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the cached artifacts for a fingerprint, or (nil, nil) on a
// cache miss.
func (s *Store) Load(fingerprint [32]byte) (*Artifacts, error) {
	var csRaw, pkRaw, vkRaw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		csRaw = cloneBytes(tx.Bucket(bucketCS).Get(fingerprint[:]))
		pkRaw = cloneBytes(tx.Bucket(bucketPK).Get(fingerprint[:]))
		vkRaw = cloneBytes(tx.Bucket(bucketVK).Get(fingerprint[:]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if csRaw == nil || pkRaw == nil || vkRaw == nil {
		return nil, nil
	}

	a := &Artifacts{
		CS: groth16.NewCS(ecc.BN254),
		PK: groth16.NewProvingKey(ecc.BN254),
		VK: groth16.NewVerifyingKey(ecc.BN254),
	}
	if _, err := a.CS.ReadFrom(bytes.NewReader(csRaw)); err != nil {
		return nil, fmt.Errorf("pkstore: constraint system: %w", err)
	}
	if _, err := a.PK.ReadFrom(bytes.NewReader(pkRaw)); err != nil {
		return nil, fmt.Errorf("pkstore: proving key: %w", err)
	}
	if _, err := a.VK.ReadFrom(bytes.NewReader(vkRaw)); err != nil {
		return nil, fmt.Errorf("pkstore: verifying key: %w", err)
	}
	return a, nil
}

// Store writes the artifacts under a fingerprint, replacing any previous
// entry.
func (s *Store) Store(fingerprint [32]byte, a *Artifacts) error {
	var csBuf, pkBuf, vkBuf bytes.Buffer
	if _, err := a.CS.WriteTo(&csBuf); err != nil {
		return fmt.Errorf("pkstore: constraint system: %w", err)
	}
	if _, err := a.PK.WriteTo(&pkBuf); err != nil {
		return fmt.Errorf("pkstore: proving key: %w", err)
	}
	if _, err := a.VK.WriteTo(&vkBuf); err != nil {
		return fmt.Errorf("pkstore: verifying key: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketCS).Put(fingerprint[:], csBuf.Bytes()); err != nil {
			return err
		}
		if err := tx.Bucket(bucketPK).Put(fingerprint[:], pkBuf.Bytes()); err != nil {
			return err
		}
		return tx.Bucket(bucketVK).Put(fingerprint[:], vkBuf.Bytes())
	})
}

// LoadOrSetup returns cached artifacts, running build and caching its
// result on a miss.
func (s *Store) LoadOrSetup(fingerprint [32]byte, build func() (*Artifacts, error)) (*Artifacts, error) {
	if a, err := s.Load(fingerprint); err != nil {
		return nil, err
	} else if a != nil {
		return a, nil
	}
	a, err := build()
	if err != nil {
		return nil, err
	}
	if err := s.Store(fingerprint, a); err != nil {
		return nil, err
	}
	return a, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
