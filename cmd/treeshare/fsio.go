package main

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/tree"
)

// maxTextBytes is the largest file kept as text. Bigger files become
// binary placeholders that only record their size.
const maxTextBytes = 4 << 20

var defaultExcludes = []string{".git", "node_modules", ".DS_Store"}

// isText reports whether b can travel as file content.
func isText(b []byte) bool {
	return utf8.Valid(b) && bytes.IndexByte(b, 0) < 0
}

// readTree loads every regular file under root. Entries whose base name is
// in exclude are skipped, directories included.
func readTree(root string, exclude []string) (models.Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	t := make(models.Tree)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if slices.Contains(exclude, d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			t[id+"/"] = models.NewDir(id)
		case d.Type().IsRegular():
			node, err := readFile(path, id)
			if err != nil {
				return err
			}
			t[id] = node
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	tree.Normalize(t)
	return t, nil
}

func readFile(path, id string) (*models.FileSystemNode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxTextBytes {
		n := models.NewBinary(id)
		n.OriginalSize = info.Size()
		n.IsLarge = true
		return n, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !isText(b) {
		n := models.NewBinary(id)
		n.OriginalSize = int64(len(b))
		return n, nil
	}
	return models.NewFile(id, string(b)), nil
}

type writeStats struct {
	Dirs, Files, Skipped int
}

// writeTree materializes t under dir. Binary placeholders have no bytes and
// are skipped.
func writeTree(dir string, t models.Tree) (writeStats, error) {
	var st writeStats
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return st, err
	}

	for _, id := range tree.SortedIDs(t) {
		rel := strings.TrimSuffix(id, "/")
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			return st, fmt.Errorf("refusing to write %q outside %s", id, dir)
		}
		path := filepath.Join(dir, filepath.FromSlash(rel))

		n := t[id]
		switch {
		case n.IsDir():
			if err := os.MkdirAll(path, 0o755); err != nil {
				return st, err
			}
			st.Dirs++
		case n.HasContent():
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return st, err
			}
			if err := os.WriteFile(path, []byte(*n.Content), 0o644); err != nil {
				return st, err
			}
			st.Files++
		default:
			st.Skipped++
		}
	}
	return st, nil
}
