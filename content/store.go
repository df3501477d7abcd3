/*
store.go - Receipt content store

PURPOSE:
  Holds the uploaded receipt bytes and hands back opaque references.
  The engine never sees content; it only stores and compares refs.

REFS:
  sha256 of the content plus the original extension. Identical bytes
  produce identical refs, so re-uploading the same file is naturally
  deduplicated on disk.

CONSTRAINTS:
  Receipts are images or PDFs up to 10 MiB. Anything else is refused
  before a ref is minted.
*/
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxReceiptSize caps one uploaded receipt at 10 MiB.
const MaxReceiptSize = 10 << 20

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".pdf":  true,
}

var (
	// ErrUnsupportedType is returned for anything that is not an
	// image or PDF receipt.
	ErrUnsupportedType = errors.New("unsupported receipt type (jpg, png, gif, pdf only)")

	// ErrTooLarge is returned when the upload exceeds MaxReceiptSize.
	ErrTooLarge = errors.New("receipt exceeds maximum size")
)

// Store is the boundary the engine consumes: mint refs, check refs.
type Store interface {
	Store(ctx context.Context, r io.Reader, filename string) (ref string, err error)
	Exists(ctx context.Context, ref string) (bool, error)
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps receipts as content-addressed files in one directory.
type FileStore struct {
	Dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating receipt dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Store reads the upload, enforces type and size limits, and writes it
// under its content hash. Returns the opaque ref.
func (fs *FileStore) Store(_ context.Context, r io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return "", ErrUnsupportedType
	}

	// Read one byte past the cap to detect oversize without buffering
	// an unbounded stream.
	data, err := io.ReadAll(io.LimitReader(r, MaxReceiptSize+1))
	if err != nil {
		return "", fmt.Errorf("reading receipt: %w", err)
	}
	if len(data) > MaxReceiptSize {
		return "", ErrTooLarge
	}
	if len(data) == 0 {
		return "", ErrUnsupportedType
	}

	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:]) + ext

	path := filepath.Join(fs.Dir, ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil // same bytes already stored
	}

	tmp, err := os.CreateTemp(fs.Dir, "receipt-*")
	if err != nil {
		return "", fmt.Errorf("creating receipt file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing receipt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing receipt file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storing receipt: %w", err)
	}
	return ref, nil
}

// Exists reports whether a ref resolves to stored content.
func (fs *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	if ref == "" || strings.Contains(ref, string(os.PathSeparator)) || strings.Contains(ref, "..") {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(fs.Dir, ref))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
