package storage

import (
	"bytes"
	"fmt"

	"github.com/klauspost/reedsolomon"
	"golang.org/x/crypto/blake2b"
	"google.golang.org/protobuf/encoding/protowire"
)

// sealedSlice is one Reed-Solomon slice (data or parity) of a stored envelope.
type sealedSlice struct {
	Index          uint8    // Index of the slice within the stripe (data slices precede parity slices)
	RSDataSlices   uint8    // Number of data slices in the stripe
	RSParitySlices uint8    // Number of parity slices in the stripe
	OriginalSize   uint64   // Size of the envelope before Reed-Solomon encoding
	Checksum       [32]byte // BLAKE2b-256 of Payload
	Payload        []byte
}

// envelopeMeta marks an envelope as present and records its geometry.
type envelopeMeta struct {
	Size           uint64
	RSDataSlices   uint8
	RSParitySlices uint8
	Created        int64
}

const (
	fieldIndex protowire.Number = iota + 1
	fieldDataSlices
	fieldParitySlices
	fieldOriginalSize
	fieldChecksum
	fieldPayload
	fieldCreated
)

func (s sealedSlice) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Index))
	b = protowire.AppendTag(b, fieldDataSlices, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.RSDataSlices))
	b = protowire.AppendTag(b, fieldParitySlices, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.RSParitySlices))
	b = protowire.AppendTag(b, fieldOriginalSize, protowire.VarintType)
	b = protowire.AppendVarint(b, s.OriginalSize)
	b = protowire.AppendTag(b, fieldChecksum, protowire.BytesType)
	b = protowire.AppendBytes(b, s.Checksum[:])
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, s.Payload)
	return b
}

func unmarshalSlice(b []byte) (sealedSlice, error) {
	var s sealedSlice
	err := consumeFields(b, func(num protowire.Number, varint uint64, raw []byte) error {
		switch num {
		case fieldIndex:
			s.Index = uint8(varint)
		case fieldDataSlices:
			s.RSDataSlices = uint8(varint)
		case fieldParitySlices:
			s.RSParitySlices = uint8(varint)
		case fieldOriginalSize:
			s.OriginalSize = varint
		case fieldChecksum:
			if len(raw) != len(s.Checksum) {
				return fmt.Errorf("checksum has %d bytes", len(raw))
			}
			copy(s.Checksum[:], raw)
		case fieldPayload:
			s.Payload = append([]byte{}, raw...)
		}
		return nil
	})
	return s, err
}

func (m envelopeMeta) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOriginalSize, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Size)
	b = protowire.AppendTag(b, fieldDataSlices, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.RSDataSlices))
	b = protowire.AppendTag(b, fieldParitySlices, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.RSParitySlices))
	b = protowire.AppendTag(b, fieldCreated, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.Created))
	return b
}

func unmarshalMeta(b []byte) (envelopeMeta, error) {
	var m envelopeMeta
	err := consumeFields(b, func(num protowire.Number, varint uint64, _ []byte) error {
		switch num {
		case fieldOriginalSize:
			m.Size = varint
		case fieldDataSlices:
			m.RSDataSlices = uint8(varint)
		case fieldParitySlices:
			m.RSParitySlices = uint8(varint)
		case fieldCreated:
			m.Created = protowire.DecodeZigZag(varint)
		}
		return nil
	})
	return m, err
}

// consumeFields walks a protobuf wire-format message. Unknown fields are
// skipped so records stay readable if fields are added later.
func consumeFields(b []byte, fn func(num protowire.Number, varint uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("failed to read field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
			}
			if err := fn(num, v, nil); err != nil {
				return err
			}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
			}
			if err := fn(num, 0, v); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("failed to skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// splitIntoRSSlices erasure codes data into dataSlices+paritySlices slices.
func splitIntoRSSlices(data []byte, dataSlices, paritySlices uint8) ([]sealedSlice, error) {
	enc, err := reedsolomon.New(int(dataSlices), int(paritySlices))
	if err != nil {
		return nil, fmt.Errorf("error creating reed solomon encoder: %w", err)
	}

	shards, err := enc.Split(append([]byte{}, data...))
	if err != nil {
		return nil, fmt.Errorf("error splitting envelope: %w", err)
	}
	if len(shards) != int(dataSlices)+int(paritySlices) {
		return nil, fmt.Errorf("unexpected number of slices: got %d, expected %d", len(shards), int(dataSlices)+int(paritySlices))
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("error computing parity slices: %w", err)
	}

	slices := make([]sealedSlice, 0, len(shards))
	for i, shard := range shards {
		slices = append(slices, sealedSlice{
			Index:          uint8(i),
			RSDataSlices:   dataSlices,
			RSParitySlices: paritySlices,
			OriginalSize:   uint64(len(data)),
			Checksum:       blake2b.Sum256(shard),
			Payload:        shard,
		})
	}
	return slices, nil
}

// reconstructFromSlices rebuilds the envelope from the intact slices.
// Slices whose checksum does not match are treated as missing. The returned
// repaired count is the number of slices that had to be rebuilt.
func reconstructFromSlices(meta envelopeMeta, slices []sealedSlice) ([]byte, int, error) {
	dataSlices := int(meta.RSDataSlices)
	total := dataSlices + int(meta.RSParitySlices)

	enc, err := reedsolomon.New(dataSlices, int(meta.RSParitySlices))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create Reed-Solomon decoder: %w", err)
	}

	shards := make([][]byte, total)
	intact := 0
	for _, s := range slices {
		if int(s.Index) >= total {
			continue
		}
		if s.RSDataSlices != meta.RSDataSlices || s.RSParitySlices != meta.RSParitySlices || s.OriginalSize != meta.Size {
			continue
		}
		if blake2b.Sum256(s.Payload) != s.Checksum {
			continue
		}
		if shards[s.Index] == nil {
			shards[s.Index] = s.Payload
			intact++
		}
	}

	if intact < dataSlices {
		return nil, 0, fmt.Errorf("%w: only %d of %d required slices intact", ErrCorrupted, intact, dataSlices)
	}

	if intact < total {
		if err := enc.Reconstruct(shards); err != nil {
			return nil, 0, fmt.Errorf("%w: failed to reconstruct slices: %v", ErrCorrupted, err)
		}
	}

	var out bytes.Buffer
	if err := enc.Join(&out, shards, int(meta.Size)); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to join slices: %v", ErrCorrupted, err)
	}
	return out.Bytes(), total - intact, nil
}
