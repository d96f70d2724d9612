// Package seed supplies the module-scoped long-term secret that file keys are
// derived from. The protocol never persists a seed; a Provider decides where
// it comes from.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
)

const (
	// MinSize is the shortest seed accepted for key derivation.
	MinSize = 16
	// MaxSize is the longest seed accepted for key derivation.
	MaxSize = 64
	// DefaultSize is the size of generated seeds.
	DefaultSize = 32
)

var (
	// ErrUnavailable is returned when a provider cannot currently supply a seed.
	ErrUnavailable = errors.New("seed unavailable")
	// ErrInvalid is returned for seeds outside [MinSize, MaxSize].
	ErrInvalid = errors.New("invalid seed")
)

// Seed is a long-term secret.
type Seed []byte

// Validate checks the seed length.
func (s Seed) Validate() error {
	if len(s) < MinSize || len(s) > MaxSize {
		return fmt.Errorf("%w: length %d outside [%d, %d]", ErrInvalid, len(s), MinSize, MaxSize)
	}
	return nil
}

// String never prints the secret.
func (s Seed) String() string {
	return fmt.Sprintf("Seed(%d bytes)", len(s))
}

// Provider supplies the seed for the calling principal.
type Provider interface {
	Seed(ctx context.Context) (Seed, error)
}

// Generate returns a fresh random seed of DefaultSize bytes.
func Generate() (Seed, error) {
	s := make(Seed, DefaultSize)
	if _, err := rand.Read(s); err != nil {
		return nil, fmt.Errorf("failed to read random seed: %w", err)
	}
	return s, nil
}

type staticProvider struct {
	seed Seed
}

// Static returns a provider that always yields a copy of s.
func Static(s Seed) Provider {
	return staticProvider{seed: append(Seed(nil), s...)}
}

func (p staticProvider) Seed(ctx context.Context) (Seed, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return append(Seed(nil), p.seed...), nil
}

// FileProvider reads a hex encoded seed from Path.
type FileProvider struct {
	Path string
	// CreateIfMissing writes a freshly generated seed when Path does not exist.
	CreateIfMissing bool

	mu sync.Mutex
}

func (p *FileProvider) Seed(ctx context.Context) (Seed, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) && p.CreateIfMissing {
		return p.create()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read seed file %s: %v", ErrUnavailable, p.Path, err)
	}

	s, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: seed file %s is not hex: %v", ErrInvalid, p.Path, err)
	}
	return Seed(s), nil
}

func (p *FileProvider) create() (Seed, error) {
	s, err := Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: failed to create seed directory: %v", ErrUnavailable, err)
	}
	if err := os.WriteFile(p.Path, []byte(hex.EncodeToString(s)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("%w: failed to write seed file %s: %v", ErrUnavailable, p.Path, err)
	}
	return s, nil
}

// PassphraseProvider stretches a passphrase into a seed with argon2id. The
// result is computed once and cached.
type PassphraseProvider struct {
	passphrase []byte
	salt       []byte

	once sync.Once
	seed Seed
}

// NewPassphraseProvider returns a provider for passphrase. salt separates
// deployments that might share passphrases; it does not need to be secret.
func NewPassphraseProvider(passphrase, salt string) *PassphraseProvider {
	return &PassphraseProvider{passphrase: []byte(passphrase), salt: []byte("ouroboros-indfile/seed/" + salt)}
}

func (p *PassphraseProvider) Seed(ctx context.Context) (Seed, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(p.passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalid)
	}
	p.once.Do(func() {
		p.seed = argon2.IDKey(p.passphrase, p.salt, 1, 64*1024, 4, DefaultSize)
	})
	return append(Seed(nil), p.seed...), nil
}

// Derived turns a parent (user) seed into a per-module seed, so the same user
// seed hands unrelated secrets to different modules.
type Derived struct {
	Parent Provider
	Module string
}

func (d Derived) Seed(ctx context.Context) (Seed, error) {
	parent, err := d.Parent.Seed(ctx)
	if err != nil {
		return nil, err
	}
	if err := parent.Validate(); err != nil {
		return nil, err
	}
	h, err := blake2b.New256(parent)
	if err != nil {
		return nil, fmt.Errorf("failed to key module seed hash: %w", err)
	}
	h.Write([]byte("ouroboros-indfile/module-seed/"))
	h.Write([]byte(d.Module))
	return Seed(h.Sum(nil)), nil
}
