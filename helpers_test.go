package indfile

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/i5heu/ouroboros-indfile/pkg/seed"
	"github.com/i5heu/ouroboros-indfile/pkg/skylink"
	"github.com/i5heu/ouroboros-indfile/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testSeed(b byte) seed.Seed {
	return seed.Seed(bytes.Repeat([]byte{b}, seed.DefaultSize))
}

// countingSeeds records how often the seed was requested and can be told to
// fail.
type countingSeeds struct {
	seed  seed.Seed
	err   error
	calls atomic.Int64
}

func (c *countingSeeds) Seed(ctx context.Context) (seed.Seed, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return append(seed.Seed(nil), c.seed...), nil
}

// countingStore wraps a MemoryStore, counts calls and can inject failures.
type countingStore struct {
	*storage.MemoryStore
	putErr error
	getErr error
	puts   atomic.Int64
	gets   atomic.Int64
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: storage.NewMemoryStore()}
}

func (c *countingStore) Put(ctx context.Context, data []byte) (skylink.Address, error) {
	c.puts.Add(1)
	if c.putErr != nil {
		return skylink.Address{}, c.putErr
	}
	return c.MemoryStore.Put(ctx, data)
}

func (c *countingStore) Get(ctx context.Context, addr skylink.Address) ([]byte, error) {
	c.gets.Add(1)
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.MemoryStore.Get(ctx, addr)
}

func newTestFiles(t *testing.T, seeds seed.Provider, store storage.Store, opts ...Option) *Files {
	t.Helper()
	f, err := Init(&Config{Logger: quietLogger()}, seeds, store, opts...)
	require.NoError(t, err)
	return f
}

// createFile runs a create and fails the test on error.
func createFile(t *testing.T, f *Files, data []byte) CreateResponse {
	t.Helper()
	resp, err := f.CreateEncryptedFile(context.Background(), CreateRequest{FileData: data})
	require.NoError(t, err)
	return resp
}
