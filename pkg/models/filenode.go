// Package models contains the data types shared by the codec, the server and the CLI.
package models

import "strings"

// FileSystemNode is one file or directory of a shared tree.
//
// ID is the full path. Directory ids end with "/" and carry a non-nil
// Children list; file ids never end with "/".
type FileSystemNode struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Content      *string  `json:"content,omitempty"`
	IsBinary     bool     `json:"isBinary"`
	Children     []string `json:"children,omitempty"`
	OriginalSize int64    `json:"originalSize,omitempty"`
	IsLarge      bool     `json:"isLarge,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n *FileSystemNode) IsDir() bool {
	return n.Children != nil || strings.HasSuffix(n.ID, "/")
}

// HasContent reports whether the node carries a text payload.
func (n *FileSystemNode) HasContent() bool {
	return !n.IsBinary && n.Content != nil
}

// Tree maps node ids to nodes. The root is implicit.
type Tree map[string]*FileSystemNode

// Text returns a pointer to s for use as FileSystemNode.Content.
func Text(s string) *string {
	return &s
}

// NewFile builds a text file node.
func NewFile(id, content string) *FileSystemNode {
	return &FileSystemNode{ID: id, Name: BaseName(id), Content: Text(content)}
}

// NewBinary builds a binary placeholder node.
func NewBinary(id string) *FileSystemNode {
	return &FileSystemNode{ID: id, Name: BaseName(id), IsBinary: true}
}

// NewDir builds a directory node. The id gets a trailing slash if missing.
func NewDir(id string, children ...string) *FileSystemNode {
	if !strings.HasSuffix(id, "/") {
		id += "/"
	}
	if children == nil {
		children = []string{}
	}
	return &FileSystemNode{ID: id, Name: BaseName(id), Children: children}
}

// BaseName returns the last non-empty path segment of id.
func BaseName(id string) string {
	trimmed := strings.TrimSuffix(id, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return id
	}
	return trimmed
}

// ParentID returns the id of the directory holding id, or "" for top-level nodes.
func ParentID(id string) string {
	trimmed := strings.TrimSuffix(id, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return ""
	}
	return trimmed[:i+1]
}
