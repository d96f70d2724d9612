package indfile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/i5heu/ouroboros-indfile/internal/envelope"
	"github.com/i5heu/ouroboros-indfile/internal/keys"
	"github.com/i5heu/ouroboros-indfile/pkg/seed"
	"github.com/i5heu/ouroboros-indfile/pkg/skylink"
	"github.com/sirupsen/logrus"
)

// CreateRequest carries the payload to encrypt. A nil FileData is rejected;
// an empty, non-nil slice is a valid empty file.
type CreateRequest struct {
	FileData []byte
}

// CreateResponse holds the two values needed to read the file back. Both are
// in their text form.
type CreateResponse struct {
	Address string
	ViewKey string
}

// CreateEncryptedFile encrypts req.FileData under a key derived from the
// caller's seed and a fresh inode, stores the envelope and returns its
// skylink together with the view key.
func (f *Files) CreateEncryptedFile(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	if req.FileData == nil {
		return CreateResponse{}, f.fail(InvalidInput, "validate", errors.New("fileData is required"))
	}
	if f.config.MaxFileSize > 0 && int64(len(req.FileData)) > f.config.MaxFileSize {
		return CreateResponse{}, f.fail(InvalidInput, "validate",
			fmt.Errorf("fileData is %s, limit is %s",
				humanize.IBytes(uint64(len(req.FileData))), humanize.IBytes(uint64(f.config.MaxFileSize))))
	}

	s, err := f.seeds.Seed(ctx)
	if err != nil {
		if errors.Is(err, seed.ErrInvalid) {
			return CreateResponse{}, f.fail(InvalidSeed, "seed", err)
		}
		return CreateResponse{}, f.fail(SeedUnavailable, "seed", err)
	}

	ino, err := f.inodes.Generate()
	if err != nil {
		return CreateResponse{}, f.fail(Internal, "generate", err)
	}

	fileKey, viewKey, err := keys.Derive(s, ino)
	if err != nil {
		if errors.Is(err, keys.ErrInvalidSeed) {
			return CreateResponse{}, f.fail(InvalidSeed, "derive", err)
		}
		return CreateResponse{}, f.fail(Internal, "derive", err)
	}

	env, err := envelope.Seal(req.FileData, fileKey, envelope.Options{
		Compression: f.compression,
		Random:      f.random,
	})
	if err != nil {
		return CreateResponse{}, f.fail(Internal, "encrypt", err)
	}

	addr, err := f.store.Put(ctx, env)
	if err != nil {
		return CreateResponse{}, f.fail(StorageFailure, "store", err)
	}
	if want := skylink.FromEnvelope(env); addr != want {
		return CreateResponse{}, f.fail(StorageFailure, "store",
			fmt.Errorf("store returned address %s for envelope %s", addr, want))
	}

	atomic.AddUint64(&f.createCounter, 1)
	log.WithFields(logrus.Fields{
		"address":  addr.String(),
		"size":     len(req.FileData),
		"envelope": len(env),
	}).Debug("Successfully created encrypted file")

	return CreateResponse{Address: addr.String(), ViewKey: viewKey.String()}, nil
}
