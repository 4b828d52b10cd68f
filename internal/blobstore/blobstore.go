// Package blobstore implements the Image Blob Store described in spec §2
// item 3: opaque bytes addressed by a stable path, with atomic
// write-then-rename semantics and a public URL for each write.
package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/choiwab/promptsmith/internal/apperr"
)

// Store is a local-filesystem-backed blob store laid out as
// "<rootDir>/<commitID>/img_01.<ext>" (or "<rootDir>/<reportID>/{diff_heatmap,overlay}.png"
// for report artifacts), per spec §6's persisted state layout.
type Store struct {
	rootDir   string
	publicBase string
}

// New returns a Store rooted at rootDir. publicBase is prefixed to relative
// paths when building the public URL returned from Write.
func New(rootDir, publicBase string) *Store {
	return &Store{rootDir: rootDir, publicBase: publicBase}
}

// Write atomically stores data under "<owner>/<name>" and returns the
// relative path and a public URL for it. Atomicity is write-to-temp then
// rename, so a reader never observes a partially written blob.
func (s *Store) Write(ctx context.Context, owner, name string, data []byte) (relPath, publicURL string, err error) {
	dir := filepath.Join(s.rootDir, owner)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", apperr.New(apperr.CodeStorageWriteFail, "blobstore.Write", fmt.Errorf("mkdir: %w", err))
	}

	final := filepath.Join(dir, name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", "", apperr.New(apperr.CodeStorageWriteFail, "blobstore.Write", fmt.Errorf("create temp: %w", err))
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", "", apperr.New(apperr.CodeStorageWriteFail, "blobstore.Write", fmt.Errorf("write: %w", err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", "", apperr.New(apperr.CodeStorageWriteFail, "blobstore.Write", fmt.Errorf("sync: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", "", apperr.New(apperr.CodeStorageWriteFail, "blobstore.Write", fmt.Errorf("close: %w", err))
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", "", apperr.New(apperr.CodeStorageWriteFail, "blobstore.Write", fmt.Errorf("rename: %w", err))
	}

	rel := filepath.Join(owner, name)
	return rel, s.publicURL(rel), nil
}

// Read returns the bytes stored at a path previously returned by Write.
func (s *Store) Read(ctx context.Context, relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.rootDir, relPath))
	if err != nil {
		return nil, apperr.New(apperr.CodeStorageWriteFail, "blobstore.Read", err)
	}
	return data, nil
}

// Delete removes every blob owned by owner (a commit ID or report ID),
// used by Repository's cascade-delete. Missing directories are not an
// error: deletion is idempotent.
func (s *Store) Delete(ctx context.Context, owner string) error {
	if err := os.RemoveAll(filepath.Join(s.rootDir, owner)); err != nil {
		return apperr.New(apperr.CodeStorageWriteFail, "blobstore.Delete", err)
	}
	return nil
}

func (s *Store) publicURL(relPath string) string {
	if s.publicBase == "" {
		return "/" + filepath.ToSlash(relPath)
	}
	return s.publicBase + "/" + filepath.ToSlash(relPath)
}
