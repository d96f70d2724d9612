package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression selects how the payload is compressed before sealing.
type Compression byte

const (
	None Compression = iota
	Zstd
	XZ
)

// maxDecompressedSize caps the output of a single decompression (16 GiB)
// when the caller sets no smaller limit.
const maxDecompressedSize = 1 << 34

var errTooLarge = errors.New("decompressed payload exceeds limit")

func (c Compression) valid() bool {
	return c <= XZ
}

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case XZ:
		return "xz"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

// ParseCompression maps a config value to a Compression. The empty string
// selects zstd.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zstd":
		return Zstd, nil
	case "none", "off":
		return None, nil
	case "xz", "lzma":
		return XZ, nil
	default:
		return None, fmt.Errorf("unknown compression %q", s)
	}
}

func compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case Zstd:
		return compressWithZstd(data)
	case XZ:
		return compressWithXZ(data)
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

// decompress inflates data, failing with errTooLarge as soon as the output
// grows past limit bytes.
func decompress(c Compression, data []byte, limit int64) ([]byte, error) {
	switch c {
	case Zstd:
		return decompressWithZstd(data, limit)
	case XZ:
		return decompressWithXZ(data, limit)
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

func compressWithZstd(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err = enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err = enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressWithZstd(data []byte, limit int64) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderMaxMemory(uint64(limit)))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return readLimited(dec, limit)
}

func compressWithXZ(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(data); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressWithXZ(data []byte, limit int64) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create xz reader: %w", err)
	}

	out, err := readLimited(r, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress xz data: %w", err)
	}
	return out, nil
}

// readLimited reads r to the end, reading at most one byte past limit.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(r, limit+1)); err != nil {
		return nil, err
	}
	if int64(buf.Len()) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", errTooLarge, limit)
	}
	return buf.Bytes(), nil
}
