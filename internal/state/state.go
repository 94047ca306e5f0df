/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package state persists the ETL boundary timestamp across restarts behind
// pluggable storage backends. A missing record is a normal cold start; any
// backend failure is surfaced to the caller and fails the cycle.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound reports an absent state record. Backends translate their own
// "no such key" conditions into it.
var ErrNotFound = errors.New("state: not found")

// Record is the single document a backend stores.
type Record struct {
	Boundary time.Time `json:"boundary" yaml:"boundary"`
	SavedAt  time.Time `json:"saved_at" yaml:"saved_at"`
}

type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

type Serializer interface {
	Marshal(r Record) ([]byte, error)
	Unmarshal(data []byte) (Record, error)
}

type Keeper struct {
	backend Backend
	ser     Serializer
	log     zerolog.Logger
}

func NewKeeper(b Backend, s Serializer, log zerolog.Logger) *Keeper {
	return &Keeper{backend: b, ser: s, log: log}
}

// Load returns the saved boundary. found is false on cold start; err is
// non-nil only for real backend or decode failures.
func (k *Keeper) Load(ctx context.Context) (boundary time.Time, found bool, err error) {
	data, err := k.backend.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		k.log.Info().Msg("no saved state, starting cold")
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("state: read: %w", err)
	}
	rec, err := k.ser.Unmarshal(data)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("state: decode: %w", err)
	}
	if rec.Boundary.IsZero() {
		return time.Time{}, false, fmt.Errorf("state: record has no boundary")
	}
	return rec.Boundary.UTC(), true, nil
}

// Save replaces the stored boundary. Called only after a cycle's load step
// fully succeeded; re-saving the same value is harmless.
func (k *Keeper) Save(ctx context.Context, boundary time.Time) error {
	rec := Record{Boundary: boundary.UTC(), SavedAt: time.Now().UTC()}
	data, err := k.ser.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	if err := k.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("state: write: %w", err)
	}
	k.log.Debug().Time("boundary", rec.Boundary).Msg("state saved")
	return nil
}
