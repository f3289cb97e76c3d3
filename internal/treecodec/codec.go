// Package treecodec converts a file tree to and from a flat binary buffer.
//
// Layout:
//
//	'F' 'T' version(1)
//	uvarint fileCount
//	fileCount × { uvarint len, path, flags, [uvarint len, content] }
//
// flags bit 0 marks a binary placeholder, bit 1 marks a content blob.
// Only files are written. Directories are rebuilt from path prefixes on decode.
package treecodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
	"github.com/AtharvRG/fractal/pkg/tree"
)

// Version is the only header version this package reads and writes.
const Version = 0x01

var magic = [2]byte{'F', 'T'}

const (
	flagBinary  = 1 << 0
	flagContent = 1 << 1
)

// HeaderSize is the number of bytes before the file count.
const HeaderSize = len(magic) + 1

// Serialize writes the files of t. Directory nodes are skipped and files are
// written in id order so equal trees produce equal buffers.
func Serialize(t models.Tree) ([]byte, error) {
	files := tree.Files(t)

	var buf bytes.Buffer
	buf.Grow(HeaderSize + 16*len(files))
	buf.Write(magic[:])
	buf.WriteByte(Version)
	writeUvarint(&buf, uint64(len(files)))

	for _, f := range files {
		if f.ID == "" {
			return nil, fmt.Errorf("serialize: file with empty id")
		}
		writeUvarint(&buf, uint64(len(f.ID)))
		buf.WriteString(f.ID)

		var flags byte
		if f.IsBinary {
			flags |= flagBinary
		}
		if f.HasContent() {
			flags |= flagContent
		}
		buf.WriteByte(flags)

		if flags&flagContent != 0 {
			writeUvarint(&buf, uint64(len(*f.Content)))
			buf.WriteString(*f.Content)
		}
	}
	return buf.Bytes(), nil
}

// Deserialize reads a buffer produced by Serialize and rebuilds every
// ancestor directory of the listed files.
func Deserialize(data []byte) (models.Tree, error) {
	r := &reader{buf: data}

	if len(data) < HeaderSize || data[0] != magic[0] || data[1] != magic[1] {
		return nil, fmt.Errorf("%w: bad header", protocol.ErrCorruptPayload)
	}
	if data[2] != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", protocol.ErrCorruptPayload, data[2])
	}
	r.off = HeaderSize

	count, err := r.uvarint("file count")
	if err != nil {
		return nil, err
	}
	// Each entry needs at least a length byte and a flag byte.
	if count > uint64(r.remaining()/2) {
		return nil, fmt.Errorf("%w: file count %d exceeds buffer", protocol.ErrCorruptPayload, count)
	}

	t := make(models.Tree, count)
	for i := uint64(0); i < count; i++ {
		path, err := r.blob("path")
		if err != nil {
			return nil, err
		}
		flags, err := r.byte("flags")
		if err != nil {
			return nil, err
		}

		node := &models.FileSystemNode{
			ID:       string(path),
			Name:     models.BaseName(string(path)),
			IsBinary: flags&flagBinary != 0,
		}
		if flags&flagContent != 0 {
			content, err := r.blob("content")
			if err != nil {
				return nil, err
			}
			if !node.IsBinary {
				node.Content = models.Text(string(content))
			}
		}
		if node.ID == "" || strings.HasSuffix(node.ID, "/") {
			return nil, fmt.Errorf("%w: invalid file path %q", protocol.ErrCorruptPayload, node.ID)
		}
		t[node.ID] = node
	}

	linkDirectories(t)
	return t, nil
}

// linkDirectories synthesizes a directory node for every "/"-terminated
// prefix of every file and fills in each directory's immediate children.
func linkDirectories(t models.Tree) {
	children := make(map[string]map[string]struct{})
	addChild := func(parent, child string) {
		set, ok := children[parent]
		if !ok {
			set = make(map[string]struct{})
			children[parent] = set
		}
		set[child] = struct{}{}
	}

	for id := range t {
		prev := ""
		for i := 0; i < len(id); i++ {
			if id[i] != '/' {
				continue
			}
			dir := id[:i+1]
			if prev != "" {
				addChild(prev, dir)
			}
			if _, ok := children[dir]; !ok {
				children[dir] = make(map[string]struct{})
			}
			prev = dir
		}
		if prev != "" {
			addChild(prev, id)
		}
	}

	for dir, set := range children {
		kids := make([]string, 0, len(set))
		for k := range set {
			kids = append(kids, k)
		}
		sort.Strings(kids)
		node := models.NewDir(dir, kids...)
		t[dir] = node
	}
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) uvarint(what string) (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	switch {
	case n == 0:
		return 0, fmt.Errorf("%w: truncated %s", protocol.ErrCorruptPayload, what)
	case n < 0:
		return 0, fmt.Errorf("%w: %s overflows", protocol.ErrCorruptPayload, what)
	}
	r.off += n
	return v, nil
}

func (r *reader) byte(what string) (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("%w: missing %s", protocol.ErrCorruptPayload, what)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) blob(what string) ([]byte, error) {
	n, err := r.uvarint(what + " length")
	if err != nil {
		return nil, err
	}
	if n > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: %s length %d exceeds remaining %d bytes",
			protocol.ErrCorruptPayload, what, n, r.remaining())
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}
