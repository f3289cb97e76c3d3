// Package tree provides utilities for working with flat file trees.
package tree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AtharvRG/fractal/pkg/models"
)

// SortedIDs returns the ids of t in lexical order.
func SortedIDs(t models.Tree) []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Files returns the file nodes of t ordered by id.
func Files(t models.Tree) []*models.FileSystemNode {
	var files []*models.FileSystemNode
	for _, id := range SortedIDs(t) {
		if n := t[id]; n != nil && !n.IsDir() {
			files = append(files, n)
		}
	}
	return files
}

// CountNodes returns the number of files and directories in t.
func CountNodes(t models.Tree) (files, dirs int) {
	for _, n := range t {
		if n == nil {
			continue
		}
		if n.IsDir() {
			dirs++
		} else {
			files++
		}
	}
	return files, dirs
}

// TopLevel returns the ids whose parent is the implicit root, sorted.
func TopLevel(t models.Tree) []string {
	var ids []string
	for _, id := range SortedIDs(t) {
		if models.ParentID(id) == "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Normalize repairs t in place so that every node's parent exists as a
// directory, directory child lists match the tree and are sorted, and
// binary nodes carry no content.
func Normalize(t models.Tree) {
	for _, id := range SortedIDs(t) {
		n := t[id]
		if n == nil {
			delete(t, id)
			continue
		}
		if n.ID == "" {
			n.ID = id
		}
		if n.Name == "" {
			n.Name = models.BaseName(id)
		}
		if n.IsBinary {
			n.Content = nil
		}
		if strings.HasSuffix(id, "/") {
			n.Content = nil
			n.IsBinary = false
		}
		ensureParents(t, id)
	}

	children := make(map[string][]string)
	for id := range t {
		if parent := models.ParentID(id); parent != "" {
			children[parent] = append(children[parent], id)
		}
	}
	for id, n := range t {
		if !strings.HasSuffix(id, "/") {
			continue
		}
		kids := children[id]
		sort.Strings(kids)
		if kids == nil {
			kids = []string{}
		}
		n.Children = kids
	}
}

func ensureParents(t models.Tree, id string) {
	for parent := models.ParentID(id); parent != ""; parent = models.ParentID(parent) {
		if _, ok := t[parent]; ok {
			return
		}
		t[parent] = models.NewDir(parent)
	}
}

// Validate checks the parent invariant and the directory/file shape of every node.
func Validate(t models.Tree) error {
	for _, id := range SortedIDs(t) {
		n := t[id]
		if n == nil {
			return fmt.Errorf("node %q is nil", id)
		}
		if n.ID != id {
			return fmt.Errorf("node %q has mismatched id %q", id, n.ID)
		}
		isDirID := strings.HasSuffix(id, "/")
		if isDirID != (n.Children != nil) {
			return fmt.Errorf("node %q: directory ids must end with / and carry children", id)
		}
		if n.IsBinary && n.Content != nil {
			return fmt.Errorf("binary node %q carries content", id)
		}
		if parent := models.ParentID(id); parent != "" {
			p, ok := t[parent]
			if !ok || !p.IsDir() {
				return fmt.Errorf("node %q: parent %q missing", id, parent)
			}
		}
	}
	return nil
}

// RawSize returns the total number of UTF-8 content bytes in t.
func RawSize(t models.Tree) int64 {
	var total int64
	for _, n := range t {
		if n != nil && n.HasContent() {
			total += int64(len(*n.Content))
		}
	}
	return total
}

// SameFiles reports whether a and b hold the same files with the same
// binary flags and content. Directory nodes are not compared.
func SameFiles(a, b models.Tree) bool {
	fa, fb := Files(a), Files(b)
	if len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		x, y := fa[i], fb[i]
		if x.ID != y.ID || x.IsBinary != y.IsBinary {
			return false
		}
		if x.HasContent() != y.HasContent() {
			return false
		}
		if x.HasContent() && *x.Content != *y.Content {
			return false
		}
	}
	return true
}
