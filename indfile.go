// Package indfile implements independent encrypted files: a creator turns a
// byte payload into a skylink and a view key, and anyone holding both can
// read the payload back. The creator's seed never leaves the process and is
// not recoverable from either value.
package indfile

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/i5heu/ouroboros-indfile/internal/envelope"
	"github.com/i5heu/ouroboros-indfile/internal/inode"
	"github.com/i5heu/ouroboros-indfile/pkg/seed"
	"github.com/i5heu/ouroboros-indfile/storage"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

// Files runs the create and view protocol against a seed provider and a
// content-addressed store. It is safe for concurrent use.
type Files struct {
	config      Config
	seeds       seed.Provider
	store       storage.Store
	inodes      inode.Generator
	compression envelope.Compression
	random      io.Reader

	createCounter uint64
	viewCounter   uint64
	failCounter   uint64
}

// Option customizes Init.
type Option func(*Files)

// WithInodeGenerator replaces the crypto/rand inode source.
func WithInodeGenerator(g inode.Generator) Option {
	return func(f *Files) { f.inodes = g }
}

// WithNonceSource replaces the crypto/rand nonce source used when sealing.
func WithNonceSource(r io.Reader) Option {
	return func(f *Files) { f.random = r }
}

func Init(config *Config, seeds seed.Provider, store storage.Store, opts ...Option) (*Files, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	log = config.Logger

	if seeds == nil {
		return nil, errors.New("no seed provider configured")
	}
	if store == nil {
		return nil, errors.New("no store configured")
	}

	compression, err := envelope.ParseCompression(config.Compression)
	if err != nil {
		return nil, fmt.Errorf("error checking config: %w", err)
	}

	f := &Files{
		config:      *config,
		seeds:       seeds,
		store:       store,
		inodes:      inode.NewCryptoGenerator(),
		compression: compression,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Stats counts completed operations since Init.
type Stats struct {
	Created uint64
	Viewed  uint64
	Failed  uint64
}

func (f *Files) Stats() Stats {
	return Stats{
		Created: atomic.LoadUint64(&f.createCounter),
		Viewed:  atomic.LoadUint64(&f.viewCounter),
		Failed:  atomic.LoadUint64(&f.failCounter),
	}
}

// fail logs err and returns it as an *Error. Client mistakes are logged at
// debug level, everything else at warn or error.
func (f *Files) fail(kind Kind, op string, err error) *Error {
	atomic.AddUint64(&f.failCounter, 1)
	e := newError(kind, op, err)

	entry := log.WithFields(logrus.Fields{"op": op, "kind": kind.String()}).WithError(err)
	switch kind {
	case InvalidInput, NotFound:
		entry.Debug("Request rejected")
	case SeedUnavailable, IntegrityError:
		entry.Warn("Request failed")
	default:
		entry.Error("Request failed")
	}
	return e
}
