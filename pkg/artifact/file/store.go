// Package file implements artifact.Store on the local filesystem.
//
// Layout:
//
//	<root>/<ref>/<filename>
//
// where ref is a generated UUID. Writes go through a temp file and
// rename so a crash never leaves a partially written artifact behind.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/airlift/buildforge/pkg/artifact"
)

// Store persists artifacts under a root directory.
type Store struct {
	root string
}

var _ artifact.Store = (*Store)(nil)

// New creates a file-backed artifact store rooted at dir.
func New(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("artifact root dir is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Put stores data under a fresh reference.
func (s *Store) Put(_ context.Context, filename string, data []byte) (string, error) {
	name := sanitizeFilename(filename)
	if name == "" {
		return "", fmt.Errorf("artifact filename is required")
	}

	ref := uuid.New().String()
	dir := filepath.Join(s.root, ref)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("rename artifact: %w", err)
	}
	return ref, nil
}

// Get returns the stored bytes and filename for ref.
func (s *Store) Get(_ context.Context, ref string) ([]byte, string, error) {
	dir, err := s.refDir(ref)
	if err != nil {
		return nil, "", err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", artifact.ErrNotFound
		}
		return nil, "", fmt.Errorf("read artifact dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, "", fmt.Errorf("read artifact: %w", err)
		}
		return data, entry.Name(), nil
	}
	return nil, "", artifact.ErrNotFound
}

// Delete removes the artifact. A missing ref is treated as success.
func (s *Store) Delete(_ context.Context, ref string) error {
	dir, err := s.refDir(ref)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (s *Store) refDir(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.ContainsAny(ref, "/\\") || ref == "." || ref == ".." {
		return "", fmt.Errorf("invalid artifact ref %q", ref)
	}
	return filepath.Join(s.root, ref), nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
