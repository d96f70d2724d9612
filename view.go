package indfile

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/i5heu/ouroboros-indfile/internal/envelope"
	"github.com/i5heu/ouroboros-indfile/internal/keys"
	"github.com/i5heu/ouroboros-indfile/pkg/skylink"
	"github.com/i5heu/ouroboros-indfile/storage"
	"github.com/sirupsen/logrus"
)

type ViewRequest struct {
	Address string
	ViewKey string
}

// ViewResponse holds the decrypted payload. FileData is never nil.
type ViewResponse struct {
	FileData []byte
}

// ViewEncryptedFile fetches the envelope stored under req.Address and
// decrypts it with req.ViewKey. Either the exact payload is returned or an
// error; partial plaintext is never handed out.
func (f *Files) ViewEncryptedFile(ctx context.Context, req ViewRequest) (ViewResponse, error) {
	addr, err := skylink.Parse(req.Address)
	if err != nil {
		return ViewResponse{}, f.fail(InvalidInput, "validate", err)
	}
	viewKey, err := keys.ParseViewKey(req.ViewKey)
	if err != nil {
		return ViewResponse{}, f.fail(InvalidInput, "validate", err)
	}

	if err := ctx.Err(); err != nil {
		return ViewResponse{}, f.fail(StorageFailure, "fetch", err)
	}

	env, err := f.store.Get(ctx, addr)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		return ViewResponse{}, f.fail(NotFound, "fetch", err)
	case errors.Is(err, storage.ErrCorrupted):
		return ViewResponse{}, f.fail(IntegrityError, "fetch", err)
	default:
		return ViewResponse{}, f.fail(StorageFailure, "fetch", err)
	}
	if !addr.Matches(env) {
		return ViewResponse{}, f.fail(IntegrityError, "fetch", storage.ErrCorrupted)
	}

	plaintext, err := envelope.Open(env, keys.FileKeyFromView(viewKey), f.config.MaxFileSize)
	if err != nil {
		return ViewResponse{}, f.fail(IntegrityError, "decrypt", err)
	}

	atomic.AddUint64(&f.viewCounter, 1)
	log.WithFields(logrus.Fields{
		"address": addr.String(),
		"size":    len(plaintext),
	}).Debug("Successfully viewed encrypted file")

	return ViewResponse{FileData: plaintext}, nil
}
