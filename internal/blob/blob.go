// Package blob stores uploaded media and returns the locator clients use to
// fetch it.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/nexus-im/ghost/internal/apperr"
)

// ErrTooLarge is returned when an upload exceeds the store limit.
var ErrTooLarge = fmt.Errorf("%w: file too large", apperr.ErrValidation)

// Store persists uploaded objects.
type Store interface {
	// Put writes r under a fresh name derived from filename and returns the
	// public locator.
	Put(ctx context.Context, filename string, r io.Reader) (string, error)
	// Delete removes the object behind a locator returned by Put. Deleting
	// a missing object is not an error.
	Delete(ctx context.Context, locator string) error
}

// ErrForeignLocator is returned by Delete for a locator the store did not
// issue.
var ErrForeignLocator = fmt.Errorf("%w: locator not issued by this store", apperr.ErrValidation)

// DiskStore writes objects into a local directory served under URLPrefix.
type DiskStore struct {
	dir       string
	urlPrefix string
	maxBytes  int64
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir, urlPrefix string, maxBytes int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/"), maxBytes: maxBytes}, nil
}

// Dir returns the directory objects are written to.
func (s *DiskStore) Dir() string { return s.dir }

func (s *DiskStore) Put(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := ulid.Make().String() + sanitizeExt(filename)
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}

	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return s.urlPrefix + "/" + name, nil
}

func (s *DiskStore) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, ok := strings.CutPrefix(locator, s.urlPrefix+"/")
	if !ok || name == "" || name != filepath.Base(name) {
		return ErrForeignLocator
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// IsTooLarge reports whether err came from an oversized upload.
func IsTooLarge(err error) bool {
	return errors.Is(err, ErrTooLarge)
}
