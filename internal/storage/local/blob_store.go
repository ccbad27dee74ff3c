// Package local implements the blob directory that holds fetched snapshot
// artifacts on the local filesystem.
package local

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/waybacker/internal/archive"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the directory where blobs are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore reads and writes blobs in a single flat directory.
type BlobStore struct {
	baseDir string
}

// New creates the blob directory if needed and checks that it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// Dir returns the blob directory.
func (s *BlobStore) Dir() string {
	return s.baseDir
}

// Put writes data under name. The file appears atomically: readers never see
// a partially written blob.
func (s *BlobStore) Put(name string, data []byte) error {
	fullPath, err := s.path(name)
	if err != nil {
		return err
	}
	return writeAtomic(fullPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CopyFrom copies the blob called name from srcDir into this store
// byte-for-byte.
func (s *BlobStore) CopyFrom(srcDir, name string) error {
	fullPath, err := s.path(name)
	if err != nil {
		return err
	}
	srcPath, err := pathIn(srcDir, name)
	if err != nil {
		return err
	}
	// #nosec G304 -- srcPath is confined to srcDir by pathIn.
	src, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", archive.ErrBlobMissing, srcPath)
		}
		return fmt.Errorf("failed to open source blob: %w", err)
	}
	defer func() { _ = src.Close() }()

	return writeAtomic(fullPath, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}

// Read returns the content of the blob called name.
func (s *BlobStore) Read(name string) ([]byte, error) {
	fullPath, err := s.path(name)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- fullPath is confined to the base directory.
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", archive.ErrBlobMissing, name)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *BlobStore) path(name string) (string, error) {
	return pathIn(s.baseDir, name)
}

func pathIn(dir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("blob name is required")
	}
	fullPath := filepath.Join(dir, name)

	cleanBaseDir := filepath.Clean(dir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

func writeAtomic(fullPath string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".blob-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		cleanup()
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}
