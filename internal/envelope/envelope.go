// Package envelope seals file data into the self-describing ciphertext that
// is stored under a skylink.
//
// Wire layout (little endian):
//
//	[magic:4 "IFE1"][version:1][compression:1][reserved:2][nonce:24][ciphertext+tag]
//
// The 32-byte header is authenticated as associated data. The sealed
// plaintext is [payloadLen:8][payload][zero padding], padded with PadSize so
// the envelope length only reveals a size bucket.
package envelope

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/i5heu/ouroboros-indfile/internal/keys"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	Version = 1

	magicSize  = 4
	HeaderSize = magicSize + 1 + 1 + 2 + chacha20poly1305.NonceSizeX
	lengthSize = 8

	// Overhead is the fixed number of bytes an envelope adds on top of the
	// padded payload.
	Overhead = HeaderSize + lengthSize + chacha20poly1305.Overhead
)

var magic = [magicSize]byte{'I', 'F', 'E', '1'}

// ErrIntegrity is returned for every envelope that does not verify: wrong
// key, tampered bytes, truncation or an unknown format.
var ErrIntegrity = errors.New("envelope integrity check failed")

// Options tune Seal.
type Options struct {
	Compression Compression
	// Random supplies nonces. Defaults to crypto/rand.
	Random io.Reader
}

type header struct {
	version     byte
	compression Compression
	nonce       [chacha20poly1305.NonceSizeX]byte
}

func (h header) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, magic[:])
	buf[4] = h.version
	buf[5] = byte(h.compression)
	copy(buf[8:], h.nonce[:])
	return buf
}

func decodeHeader(data []byte) (header, error) {
	var h header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: envelope too short (%d bytes)", ErrIntegrity, len(data))
	}
	if !bytes.Equal(data[:magicSize], magic[:]) {
		return h, fmt.Errorf("%w: bad magic", ErrIntegrity)
	}
	h.version = data[4]
	if h.version != Version {
		return h, fmt.Errorf("%w: unsupported version %d", ErrIntegrity, h.version)
	}
	h.compression = Compression(data[5])
	if !h.compression.valid() {
		return h, fmt.Errorf("%w: unknown compression %d", ErrIntegrity, data[5])
	}
	if data[6] != 0 || data[7] != 0 {
		return h, fmt.Errorf("%w: reserved bytes set", ErrIntegrity)
	}
	copy(h.nonce[:], data[8:HeaderSize])
	return h, nil
}

// Seal encrypts plaintext with key.
func Seal(plaintext []byte, key keys.FileKey, opts Options) ([]byte, error) {
	random := opts.Random
	if random == nil {
		random = rand.Reader
	}

	h := header{version: Version, compression: None}

	payload := plaintext
	if opts.Compression != None && len(plaintext) > 0 {
		compressed, err := compress(opts.Compression, plaintext)
		if err != nil {
			return nil, fmt.Errorf("failed to compress payload: %w", err)
		}
		if len(compressed) < len(plaintext) {
			payload = compressed
			h.compression = opts.Compression
		}
	}

	if _, err := io.ReadFull(random, h.nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := make([]byte, lengthSize+PadSize(uint64(len(payload))))
	binary.LittleEndian.PutUint64(padded, uint64(len(payload)))
	copy(padded[lengthSize:], payload)

	hdr := h.encode()
	out := make([]byte, 0, len(hdr)+len(padded)+aead.Overhead())
	out = append(out, hdr...)
	return aead.Seal(out, h.nonce[:], padded, hdr), nil
}

// Open verifies and decrypts an envelope. It never returns partial plaintext.
// Plaintext longer than maxSize bytes is rejected with ErrIntegrity before it
// is fully inflated; zero or negative maxSize only applies the 16 GiB
// decompression cap.
func Open(envelope []byte, key keys.FileKey, maxSize int64) ([]byte, error) {
	if maxSize <= 0 || maxSize > maxDecompressedSize {
		maxSize = maxDecompressedSize
	}

	h, err := decodeHeader(envelope)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	body := envelope[HeaderSize:]
	if len(body) < aead.Overhead()+lengthSize {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", ErrIntegrity, len(body))
	}

	padded, err := aead.Open(nil, h.nonce[:], body, envelope[:HeaderSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	size := binary.LittleEndian.Uint64(padded[:lengthSize])
	if size > uint64(len(padded)-lengthSize) {
		return nil, fmt.Errorf("%w: payload length %d exceeds body", ErrIntegrity, size)
	}
	payload := padded[lengthSize : lengthSize+int(size)]

	if h.compression == None {
		if int64(len(payload)) > maxSize {
			return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit of %d", ErrIntegrity, len(payload), maxSize)
		}
		return append([]byte{}, payload...), nil
	}
	plaintext, err := decompress(h.compression, payload, maxSize)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decompress payload: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}

// PadSize returns the padded length for a payload of n bytes: for the
// smallest k with n <= 2^k * 80 KiB, n is rounded up to a multiple of
// 2^k * 4 KiB. Small files therefore land in 4 KiB buckets and the
// granularity doubles as files grow.
func PadSize(n uint64) uint64 {
	const kib = 1 << 10
	for k := uint(0); k < 48; k++ {
		if n <= (uint64(1)<<k)*80*kib {
			step := (uint64(1) << k) * 4 * kib
			if n%step == 0 {
				return n
			}
			return n + step - n%step
		}
	}
	return n
}
