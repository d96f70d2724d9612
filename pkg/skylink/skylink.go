// Package skylink implements the content address under which an encrypted
// envelope is stored.
//
// An Address is a 2-byte little endian bitfield followed by the BLAKE2b-256
// digest of the stored bytes. Its text form is unpadded base64url and is
// always EncodedSize characters long.
package skylink

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// Size is the length of a raw address in bytes.
	Size = 2 + RootSize
	// RootSize is the length of the digest part of an address.
	RootSize = blake2b.Size256
	// EncodedSize is the length of the base64url text form.
	EncodedSize = 46

	// BitfieldV1 marks a version 1 address pointing at a whole, immutable envelope.
	BitfieldV1 uint16 = 1
)

var (
	ErrMalformed      = errors.New("malformed skylink")
	ErrUnknownVersion = errors.New("unknown skylink version")
)

// Address is the raw form of a skylink.
type Address [Size]byte

// FromEnvelope computes the address of data.
func FromEnvelope(data []byte) Address {
	var a Address
	binary.LittleEndian.PutUint16(a[:2], BitfieldV1)
	root := blake2b.Sum256(data)
	copy(a[2:], root[:])
	return a
}

// Parse decodes and validates the text form of an address.
func Parse(s string) (Address, error) {
	var a Address
	if len(s) != EncodedSize {
		return a, fmt.Errorf("%w: expected %d characters, got %d", ErrMalformed, EncodedSize, len(s))
	}
	raw, err := base64.RawURLEncoding.Strict().DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) != Size {
		return a, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformed, Size, len(raw))
	}
	copy(a[:], raw)
	if a.Bitfield() != BitfieldV1 {
		return Address{}, fmt.Errorf("%w: bitfield %d", ErrUnknownVersion, a.Bitfield())
	}
	return a, nil
}

// Valid reports whether s is a well formed skylink.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Bitfield returns the version/flags field of the address.
func (a Address) Bitfield() uint16 {
	return binary.LittleEndian.Uint16(a[:2])
}

// Matches reports whether data hashes to this address.
func (a Address) Matches(data []byte) bool {
	return FromEnvelope(data) == a
}

func (a Address) String() string {
	return base64.RawURLEncoding.EncodeToString(a[:])
}

// Hex returns the lowercase hex form used for storage keys.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
