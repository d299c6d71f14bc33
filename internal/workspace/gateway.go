// Package workspace exposes the files inside a lab's persistent workspace
// volume to the student-facing UI.
package workspace

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/redmage123/course-creator-sub023/pkg/api"
)

var (
	// ErrInvalidPath is returned when a requested path escapes the workspace
	ErrInvalidPath = errors.New("invalid workspace path")
	// ErrFileNotFound is returned when a requested path does not exist inside
	// the workspace. The host-side location is deliberately not included.
	ErrFileNotFound = errors.New("workspace file not found")
)

// LabResolver resolves a lab ID to its workspace volume path. Resolution
// fails for labs whose volume no longer exists (deleted, errored, unknown).
type LabResolver interface {
	WorkspaceDir(labID string) (string, error)
}

// Gateway lists, serves and archives workspace files
type Gateway struct {
	resolver LabResolver
	logger   *logrus.Logger
}

// NewGateway creates a workspace file gateway
func NewGateway(resolver LabResolver, logger *logrus.Logger) *Gateway {
	return &Gateway{
		resolver: resolver,
		logger:   logger,
	}
}

// ListFiles walks the lab's workspace and returns every entry, paths relative
// to the workspace root.
func (g *Gateway) ListFiles(labID string) ([]api.FileInfo, error) {
	root, err := g.resolver.WorkspaceDir(labID)
	if err != nil {
		return nil, err
	}

	files := []api.FileInfo{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		files = append(files, api.FileInfo{
			Path:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   d.IsDir(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace files: %w", err)
	}

	return files, nil
}

// OpenFile opens a single file inside the workspace for download. The caller
// owns the returned reader.
func (g *Gateway) OpenFile(labID, relPath string) (io.ReadCloser, int64, error) {
	root, err := g.resolver.WorkspaceDir(labID)
	if err != nil {
		return nil, 0, err
	}

	path, err := securePath(root, relPath)
	if err != nil {
		return nil, 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrFileNotFound, relPath)
		}
		return nil, 0, fmt.Errorf("failed to stat workspace file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, relPath)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrFileNotFound, relPath)
		}
		return nil, 0, fmt.Errorf("failed to open workspace file: %w", err)
	}
	return f, info.Size(), nil
}

// WriteZip streams the whole workspace as a zip archive to w. Files are
// copied into the archive one at a time, so large workspaces never need to
// fit in memory.
func (g *Gateway) WriteZip(labID string, w io.Writer) error {
	root, err := g.resolver.WorkspaceDir(labID)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root || d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("failed to archive workspace: %w", err)
	}

	return zw.Close()
}

// securePath joins relPath onto root, rejecting anything that would escape
// the workspace.
func securePath(root, relPath string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.FromSlash(relPath))
	path := filepath.Join(root, cleaned)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, relPath)
	}
	return path, nil
}
