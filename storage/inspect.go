package storage

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	"github.com/i5heu/ouroboros-indfile/pkg/skylink"
	"golang.org/x/crypto/blake2b"
)

// EnvelopeInfo describes how an envelope is laid out in the badger store.
type EnvelopeInfo struct {
	Address        skylink.Address
	Size           uint64 // Envelope size before erasure coding
	StorageSize    uint64 // Sum of all stored slice payloads
	Created        time.Time
	RSDataSlices   uint8
	RSParitySlices uint8
	Slices         []SliceInfo
}

// SliceInfo represents information about a single Reed-Solomon slice
type SliceInfo struct {
	Index       uint8
	Size        uint64
	IsDataSlice bool
	Intact      bool // Checksum matches the payload
}

// Stat returns layout information about a stored envelope without
// reconstructing it.
func (s *BadgerStore) Stat(ctx context.Context, addr skylink.Address) (EnvelopeInfo, error) {
	if err := ctx.Err(); err != nil {
		return EnvelopeInfo{}, err
	}
	if s.closed.Load() {
		return EnvelopeInfo{}, ErrClosed
	}
	atomic.AddUint64(&s.readCounter, 1)

	var info EnvelopeInfo
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		meta, err := loadMetadata(txn, addr)
		if err != nil {
			return err
		}
		slices, err := loadSlices(txn, addr)
		if err != nil {
			return err
		}

		info = EnvelopeInfo{
			Address:        addr,
			Size:           meta.Size,
			Created:        time.Unix(meta.Created, 0),
			RSDataSlices:   meta.RSDataSlices,
			RSParitySlices: meta.RSParitySlices,
		}
		for _, slice := range slices {
			info.Slices = append(info.Slices, SliceInfo{
				Index:       slice.Index,
				Size:        uint64(len(slice.Payload)),
				IsDataSlice: slice.Index < meta.RSDataSlices,
				Intact:      blake2b.Sum256(slice.Payload) == slice.Checksum,
			})
			info.StorageSize += uint64(len(slice.Payload))
		}
		return nil
	})
	if err != nil {
		return EnvelopeInfo{}, err
	}
	return info, nil
}

// Format returns a human-readable representation of the envelope layout.
func (info EnvelopeInfo) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Skylink: %s\n", info.Address)
	fmt.Fprintf(&b, "Created: %s\n", info.Created.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Envelope Size: %s (%d bytes)\n", humanize.IBytes(info.Size), info.Size)
	fmt.Fprintf(&b, "Storage Size: %s (%d bytes)\n", humanize.IBytes(info.StorageSize), info.StorageSize)
	fmt.Fprintf(&b, "Reed-Solomon Config: %d data + %d parity slices\n", info.RSDataSlices, info.RSParitySlices)

	for _, slice := range info.Slices {
		kind := "data"
		if !slice.IsDataSlice {
			kind = "parity"
		}
		state := "ok"
		if !slice.Intact {
			state = "damaged"
		}
		fmt.Fprintf(&b, "  Slice %d (%s): %s [%s]\n", slice.Index, kind, humanize.IBytes(slice.Size), state)
	}
	return b.String()
}

// ValidationResult captures the outcome of validating a single envelope.
type ValidationResult struct {
	Address  skylink.Address
	Repaired int // Slices that had to be rebuilt from parity
	Err      error
}

// Passed reports whether the validation succeeded.
func (r ValidationResult) Passed() bool {
	return r.Err == nil
}

// Validate verifies that the envelope stored under addr can be
// reconstructed and still hashes to addr.
func (s *BadgerStore) Validate(ctx context.Context, addr skylink.Address) ValidationResult {
	_, repaired, err := s.read(ctx, addr)
	return ValidationResult{Address: addr, Repaired: repaired, Err: err}
}

// ValidateAll iterates over all stored envelopes and returns validation
// results per entry.
func (s *BadgerStore) ValidateAll(ctx context.Context) ([]ValidationResult, error) {
	addrs, err := s.Addresses()
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses for validation: %w", err)
	}

	results := make([]ValidationResult, 0, len(addrs))
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, s.Validate(ctx, addr))
	}
	return results, nil
}
