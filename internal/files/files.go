// Package files implements the plain filesystem operations behind the
// editor's file tree and buffers.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"clause/internal/protocol"
)

var (
	ErrNotFound = errors.New("does not exist")
	ErrNotDir   = errors.New("is not a directory")
	ErrNotFile  = errors.New("is not a file")
	ErrNotText  = errors.New("is not valid UTF-8 text")
)

// List returns the entries of dir, skipping hidden ones. Directories come
// first; each group is ordered by case-insensitive name.
func List(dir string) ([]protocol.FileEntry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory %s: %w", dir, ErrNotFound)
		}
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path %s: %w", dir, ErrNotDir)
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	entries := make([]protocol.FileEntry, 0, len(dirEntries))
	for _, d := range dirEntries {
		name := d.Name()
		if isHidden(name) {
			continue
		}

		fullPath := filepath.Join(dir, name)
		isDir := d.IsDir()
		if d.Type()&fs.ModeSymlink != 0 {
			if target, err := os.Stat(fullPath); err == nil {
				isDir = target.IsDir()
			}
		}

		entries = append(entries, protocol.FileEntry{
			Name:  name,
			Path:  fullPath,
			IsDir: isDir,
		})
	}

	slices.SortFunc(entries, func(a, b protocol.FileEntry) int {
		if a.IsDir != b.IsDir {
			if a.IsDir {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	return entries, nil
}

// Read returns the contents of a text file.
func Read(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("file %s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("path %s: %w", path, ErrNotFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file %s: %w", path, ErrNotText)
	}
	return string(data), nil
}

// Write replaces the contents of path, creating missing parent directories.
func Write(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
