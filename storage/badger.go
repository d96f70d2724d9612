package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	"github.com/i5heu/ouroboros-indfile/pkg/skylink"
	"github.com/i5heu/ouroboros-indfile/pkg/spaceInformations"
	"github.com/sirupsen/logrus"
)

const (
	// Key prefixes for different record types in BadgerDB
	MetadataPrefix = "meta:"
	SlicePrefix    = "slice:"

	DefaultRSDataSlices   = 4
	DefaultRSParitySlices = 2
)

type BadgerConfig struct {
	Paths            []string // Only the first path is used for the database
	MinimumFreeSpace int      // in GB
	RSDataSlices     uint8
	RSParitySlices   uint8
	// StatsInterval enables periodic logging of read/write operations. Zero disables it.
	StatsInterval time.Duration
	Logger        *logrus.Logger
}

func (c *BadgerConfig) check() error {
	if len(c.Paths) == 0 || c.Paths[0] == "" {
		return fmt.Errorf("no path provided in configuration")
	}
	if c.RSDataSlices == 0 {
		c.RSDataSlices = DefaultRSDataSlices
	}
	if int(c.RSDataSlices)+int(c.RSParitySlices) > 256 {
		return fmt.Errorf("too many Reed-Solomon slices: %d data + %d parity", c.RSDataSlices, c.RSParitySlices)
	}
	for _, path := range c.Paths {
		if err := spaceInformations.EnsureDirectory(path); err != nil {
			return err
		}
		if err := spaceInformations.CheckFreeSpace(path, c.MinimumFreeSpace); err != nil {
			return err
		}
	}
	return nil
}

// BadgerStore stores envelopes erasure coded in a badger database. Each
// envelope is split into RSDataSlices data slices and RSParitySlices parity
// slices, so up to RSParitySlices damaged slices are repaired on read.
type BadgerStore struct {
	badgerDB     *badger.DB
	config       BadgerConfig
	log          *logrus.Logger
	readCounter  uint64
	writeCounter uint64
	closed       atomic.Bool
	closeOnce    sync.Once
	stop         chan struct{}
}

func OpenBadgerStore(config BadgerConfig) (*BadgerStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	if err := config.check(); err != nil {
		return nil, fmt.Errorf("error checking config for badger store: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	if err := spaceInformations.DisplayDiskUsage(config.Logger, config.Paths); err != nil {
		db.Close()
		return nil, err
	}

	s := &BadgerStore{
		badgerDB: db,
		config:   config,
		log:      config.Logger,
		stop:     make(chan struct{}),
	}
	if config.StatsInterval > 0 {
		s.startTransactionCounter(config.StatsInterval)
	}
	return s, nil
}

func (s *BadgerStore) startTransactionCounter(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				readOps := atomic.SwapUint64(&s.readCounter, 0)
				writeOps := atomic.SwapUint64(&s.writeCounter, 0)
				if readOps == 0 && writeOps == 0 {
					continue
				}
				s.log.WithFields(logrus.Fields{
					"read_ops":  readOps,
					"write_ops": writeOps,
					"interval":  interval,
				}).Info("Envelope operations")
			}
		}
	}()
}

func metadataKey(addr skylink.Address) []byte {
	return []byte(MetadataPrefix + addr.Hex())
}

func sliceKey(addr skylink.Address, index uint8) []byte {
	return []byte(fmt.Sprintf("%s%s_%d", SlicePrefix, addr.Hex(), index))
}

func (s *BadgerStore) Put(ctx context.Context, data []byte) (skylink.Address, error) {
	if err := ctx.Err(); err != nil {
		return skylink.Address{}, err
	}
	if s.closed.Load() {
		return skylink.Address{}, ErrClosed
	}
	atomic.AddUint64(&s.writeCounter, 1)

	addr := skylink.FromEnvelope(data)

	exists, err := s.has(addr)
	if err != nil {
		return skylink.Address{}, err
	}
	if exists {
		s.log.WithField("address", addr.String()).Debug("Envelope already stored")
		return addr, nil
	}

	var slices []sealedSlice
	if len(data) > 0 {
		slices, err = splitIntoRSSlices(data, s.config.RSDataSlices, s.config.RSParitySlices)
		if err != nil {
			return skylink.Address{}, fmt.Errorf("failed to erasure code envelope: %w", err)
		}
	}

	meta := envelopeMeta{
		Size:           uint64(len(data)),
		RSDataSlices:   s.config.RSDataSlices,
		RSParitySlices: s.config.RSParitySlices,
		Created:        time.Now().Unix(),
	}

	// Use WriteBatch for better handling of large transactions
	wb := s.badgerDB.NewWriteBatch()
	defer wb.Cancel()

	for _, slice := range slices {
		if err := wb.Set(sliceKey(addr, slice.Index), slice.marshal()); err != nil {
			return skylink.Address{}, fmt.Errorf("failed to store slice %d: %w", slice.Index, err)
		}
	}
	// The metadata record goes last so a reader never sees a partial envelope.
	if err := wb.Set(metadataKey(addr), meta.marshal()); err != nil {
		return skylink.Address{}, fmt.Errorf("failed to store metadata: %w", err)
	}

	if err := wb.Flush(); err != nil {
		s.log.WithError(err).Error("Failed to write envelope")
		return skylink.Address{}, fmt.Errorf("failed to commit batch: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"address": addr.String(),
		"size":    humanize.Bytes(meta.Size),
		"slices":  len(slices),
	}).Debug("Successfully wrote envelope")
	return addr, nil
}

func (s *BadgerStore) has(addr skylink.Address) (bool, error) {
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metadataKey(addr))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check metadata: %w", err)
	}
	return true, nil
}

func (s *BadgerStore) Get(ctx context.Context, addr skylink.Address) ([]byte, error) {
	data, _, err := s.read(ctx, addr)
	return data, err
}

// read returns the envelope and the number of slices that were rebuilt
// from parity.
func (s *BadgerStore) read(ctx context.Context, addr skylink.Address) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if s.closed.Load() {
		return nil, 0, ErrClosed
	}
	atomic.AddUint64(&s.readCounter, 1)

	var (
		meta   envelopeMeta
		slices []sealedSlice
	)
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		var err error
		meta, err = loadMetadata(txn, addr)
		if err != nil {
			return err
		}
		slices, err = loadSlices(txn, addr)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.WithError(err).WithField("address", addr.String()).Error("Failed to read envelope")
		}
		return nil, 0, err
	}

	data := []byte{}
	repaired := 0
	if meta.Size > 0 {
		data, repaired, err = reconstructFromSlices(meta, slices)
		if err != nil {
			s.log.WithError(err).WithField("address", addr.String()).Warn("Envelope could not be reconstructed")
			return nil, 0, err
		}
	}

	if !addr.Matches(data) {
		return nil, 0, fmt.Errorf("%w: %s", ErrCorrupted, addr)
	}
	if repaired > 0 {
		s.log.WithFields(logrus.Fields{
			"address":  addr.String(),
			"repaired": repaired,
		}).Warn("Rebuilt damaged slices from parity")
	}

	s.log.WithField("address", addr.String()).Debug("Successfully read envelope")
	return data, repaired, nil
}

func loadMetadata(txn *badger.Txn, addr skylink.Address) (envelopeMeta, error) {
	item, err := txn.Get(metadataKey(addr))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return envelopeMeta{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return envelopeMeta{}, fmt.Errorf("failed to get metadata: %w", err)
	}

	var raw []byte
	if err := item.Value(func(val []byte) error {
		raw = append([]byte(nil), val...)
		return nil
	}); err != nil {
		return envelopeMeta{}, fmt.Errorf("failed to read metadata value: %w", err)
	}

	meta, err := unmarshalMeta(raw)
	if err != nil {
		return envelopeMeta{}, fmt.Errorf("%w: failed to unmarshal metadata: %v", ErrCorrupted, err)
	}
	if meta.Size > 0 && meta.RSDataSlices == 0 {
		return envelopeMeta{}, fmt.Errorf("%w: metadata without data slices", ErrCorrupted)
	}
	return meta, nil
}

// loadSlices returns every slice stored for addr. Records that no longer
// decode are skipped and count as missing.
func loadSlices(txn *badger.Txn, addr skylink.Address) ([]sealedSlice, error) {
	var slices []sealedSlice
	prefix := []byte(SlicePrefix + addr.Hex() + "_")
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var raw []byte
		if err := it.Item().Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to read slice value: %w", err)
		}
		slice, err := unmarshalSlice(raw)
		if err != nil {
			continue
		}
		slices = append(slices, slice)
	}
	return slices, nil
}

// Addresses lists every stored envelope.
func (s *BadgerStore) Addresses() ([]skylink.Address, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var addrs []skylink.Address
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(MetadataPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			hexAddr := strings.TrimPrefix(string(it.Item().Key()), MetadataPrefix)
			raw, err := hex.DecodeString(hexAddr)
			if err != nil || len(raw) != skylink.Size {
				s.log.WithField("key", string(it.Item().Key())).Warn("Skipping malformed metadata key")
				continue
			}
			var addr skylink.Address
			copy(addr[:], raw)
			addrs = append(addrs, addr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return addrs, nil
}

// Clean syncs the database, flattens the LSM tree and runs value log GC.
func (s *BadgerStore) Clean() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.badgerDB.Sync(); err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// The parameter is the number of concurrent compactions
	if err := s.badgerDB.Flatten(runtime.NumCPU()); err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}
	s.log.Info("DB Flattened")

	if err := s.badgerDB.RunValueLogGC(0.1); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		if syncErr := s.badgerDB.Sync(); syncErr != nil {
			s.log.WithError(syncErr).Warn("Failed to sync db before close")
		}
		err = s.badgerDB.Close()
	})
	return err
}
