package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/sealed-keymaster/interfaces"
)

// FileBackend implements an artifact store on the local file system, rooted
// at root with one directory per folder. It is typically pointed at a
// synced directory that every party can reach.
type FileBackend struct {
	root string
	log  *slog.Logger
}

// NewFileBackend roots the store at root, creating it owner-only if needed.
func NewFileBackend(root string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("cannot create storage root %s: %w", root, err)
	}
	return &FileBackend{root: root, log: log.With("backend", "file")}, nil
}

// Exists reports whether the artifact file is present.
func (b *FileBackend) Exists(ctx context.Context, folder, name string) (bool, error) {
	filePath, err := b.getFilePath(folder, name)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// Read returns the artifact content. Returns ErrNotFound if the file doesn't exist.
func (b *FileBackend) Read(ctx context.Context, folder, name string) ([]byte, error) {
	filePath, err := b.getFilePath(folder, name)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrNotFound, folder, name)
	case err != nil:
		return nil, fmt.Errorf("cannot read %s: %w", filePath, err)
	}

	b.log.Debug("artifact read", "file", filePath, "bytes", len(content))
	return content, nil
}

// Write stores the artifact through a temporary file in the same directory
// followed by a rename, so readers never observe a partial file.
func (b *FileBackend) Write(ctx context.Context, folder, name string, data []byte) error {
	filePath, err := b.getFilePath(folder, name)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	b.log.Debug("artifact written", "file", filePath, "bytes", len(data))
	return nil
}

// Delete overwrites the artifact with zeros and removes it. A missing file is
// not an error.
func (b *FileBackend) Delete(ctx context.Context, folder, name string) error {
	filePath, err := b.getFilePath(folder, name)
	if err != nil {
		return err
	}

	if err := overwrite(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		b.log.Warn("could not zero artifact before removal", "file", filePath, "err", err)
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}

	b.log.Debug("artifact deleted", "file", filePath)
	return nil
}

// Available is true while the root directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	info, err := os.Stat(b.root)
	if err != nil || !info.IsDir() {
		b.log.Debug("storage root missing", "root", b.root, "err", err)
		return false
	}
	return true
}

func (b *FileBackend) Name() string {
	return "file-" + filepath.Base(b.root)
}

func (b *FileBackend) LocationURI() string {
	return "file://" + b.root
}

// getFilePath joins folder and name under root, rejecting anything that
// could escape it.
func (b *FileBackend) getFilePath(folder, name string) (string, error) {
	if err := validateSegment(folder); err != nil {
		return "", err
	}
	if err := validateSegment(name); err != nil {
		return "", err
	}
	return filepath.Join(b.root, folder, name), nil
}

func validateSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, "/\\\x00") {
		return fmt.Errorf("%w: %q", interfaces.ErrInvalidArtifactPath, s)
	}
	return nil
}

func overwrite(filePath string) error {
	f, err := os.OpenFile(filePath, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if _, err := io.CopyN(f, zeroReader{}, info.Size()); err != nil {
		return err
	}
	return f.Sync()
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
