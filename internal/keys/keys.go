// Package keys derives the per-file key material.
//
//	viewKey = HKDF-SHA512(ikm = seed,    salt = inode.String(), info = viewKeyInfo)
//	fileKey = HKDF-SHA512(ikm = viewKey, salt = nil,            info = fileKeyInfo)
//
// The view key is the shareable capability. The file key is what the envelope
// is sealed with and can be recomputed from the view key, never the other way
// around. Neither reveals the seed or the keys of any other inode.
package keys

import (
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/i5heu/ouroboros-indfile/internal/inode"
	"github.com/i5heu/ouroboros-indfile/pkg/seed"
	"golang.org/x/crypto/hkdf"
)

const (
	// Size of both key types in bytes.
	Size = 32
	// EncodedViewKeySize is the length of the text form of a ViewKey.
	EncodedViewKeySize = 43

	viewKeyInfo = "ouroboros-indfile/view-key/v1"
	fileKeyInfo = "ouroboros-indfile/file-key/v1"
)

var (
	ErrInvalidSeed      = errors.New("invalid seed")
	ErrMalformedViewKey = errors.New("malformed view key")
)

// ViewKey is the capability handed to the creator of a file.
type ViewKey [Size]byte

// FileKey is the symmetric key an envelope is sealed with.
type FileKey [Size]byte

// Derive computes the key pair for (s, ino). It is deterministic.
func Derive(s seed.Seed, ino inode.Inode) (FileKey, ViewKey, error) {
	if err := s.Validate(); err != nil {
		return FileKey{}, ViewKey{}, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	var vk ViewKey
	r := hkdf.New(sha512.New, s, []byte(ino.String()), []byte(viewKeyInfo))
	if _, err := io.ReadFull(r, vk[:]); err != nil {
		return FileKey{}, ViewKey{}, fmt.Errorf("failed to derive view key: %w", err)
	}

	return FileKeyFromView(vk), vk, nil
}

// FileKeyFromView recomputes the file key belonging to vk.
func FileKeyFromView(vk ViewKey) FileKey {
	var fk FileKey
	r := hkdf.New(sha512.New, vk[:], nil, []byte(fileKeyInfo))
	// HKDF-SHA512 can expand to 255*64 bytes; 32 never fails.
	if _, err := io.ReadFull(r, fk[:]); err != nil {
		panic(fmt.Sprintf("hkdf expand: %v", err))
	}
	return fk
}

// ParseViewKey decodes the text form of a view key.
func ParseViewKey(s string) (ViewKey, error) {
	var vk ViewKey
	if len(s) != EncodedViewKeySize {
		return vk, fmt.Errorf("%w: expected %d characters, got %d", ErrMalformedViewKey, EncodedViewKeySize, len(s))
	}
	raw, err := base64.RawURLEncoding.Strict().DecodeString(s)
	if err != nil {
		return vk, fmt.Errorf("%w: %v", ErrMalformedViewKey, err)
	}
	if len(raw) != Size {
		return vk, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedViewKey, Size, len(raw))
	}
	copy(vk[:], raw)
	return vk, nil
}

func (vk ViewKey) String() string {
	return base64.RawURLEncoding.EncodeToString(vk[:])
}

// String is redacted so a file key cannot end up in a log line.
func (FileKey) String() string {
	return "FileKey(redacted)"
}

// GoString keeps %#v redacted as well.
func (fk FileKey) GoString() string {
	return fk.String()
}
