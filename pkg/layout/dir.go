package layout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir is a Fetcher over a local model directory, such as a Hub snapshot
// already on disk.
type Dir struct {
	Root string
}

// ListFiles returns the slash-separated paths of all regular files under the
// directory.
func (d Dir) ListFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(d.Root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == ".git" || entry.Name() == ".cache" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(d.Root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", d.Root, err)
	}
	return files, nil
}

// FetchJSON decodes the JSON file at path.
func (d Dir) FetchJSON(_ context.Context, path string, v any) error {
	data, err := os.ReadFile(d.abs(path))
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// FetchRange reads the inclusive byte range [start, end] of the file at path.
func (d Dir) FetchRange(_ context.Context, path string, start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid range %d-%d", start, end)
	}
	f, err := os.Open(d.abs(path))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, end-start+1)
	n, err := f.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return buf[:n], nil
}

func (d Dir) abs(path string) string {
	return filepath.Join(d.Root, filepath.FromSlash(path))
}
