package treecodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
	"github.com/AtharvRG/fractal/pkg/tree"
)

func scenarioTree() models.Tree {
	return models.Tree{
		"a.txt":     models.NewFile("a.txt", "hello"),
		"dir/":      models.NewDir("dir/", "dir/b.bin"),
		"dir/b.bin": models.NewBinary("dir/b.bin"),
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		tree models.Tree
	}{
		{"scenario", scenarioTree()},
		{"empty", models.Tree{}},
		{"empty file", models.Tree{"e": models.NewFile("e", "")}},
		{"unicode", models.Tree{"ü/日本.md": models.NewFile("ü/日本.md", "héllo 🌍")}},
		{"long name", models.Tree{strings.Repeat("n", 5000): models.NewFile(strings.Repeat("n", 5000), "x")}},
		{"deep", models.Tree{"a/b/c/d/e.go": models.NewFile("a/b/c/d/e.go", "package e\n")}},
		{"big content", models.Tree{"big.txt": models.NewFile("big.txt", strings.Repeat("0123456789", 50_000))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Serialize(tt.tree)
			require.NoError(t, err)

			got, err := Deserialize(data)
			require.NoError(t, err)
			assert.True(t, tree.SameFiles(tt.tree, got), "files differ after round trip")
			assert.NoError(t, tree.Validate(got))
		})
	}
}

func TestScenarioDirectories(t *testing.T) {
	data, err := Serialize(scenarioTree())
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)

	require.Contains(t, got, "a.txt")
	require.NotNil(t, got["a.txt"].Content)
	assert.Equal(t, "hello", *got["a.txt"].Content)

	require.Contains(t, got, "dir/")
	assert.Equal(t, []string{"dir/b.bin"}, got["dir/"].Children)
	assert.Equal(t, "dir", got["dir/"].Name)
	assert.False(t, got["dir/"].IsBinary)
	assert.Nil(t, got["dir/"].Content)

	bin := got["dir/b.bin"]
	require.NotNil(t, bin)
	assert.True(t, bin.IsBinary)
	assert.Nil(t, bin.Content)
	assert.Equal(t, "b.bin", bin.Name)
}

func TestNestedDirectoriesListSubdirectories(t *testing.T) {
	in := models.Tree{
		"src/main.go":     models.NewFile("src/main.go", "package main"),
		"src/pkg/util.go": models.NewFile("src/pkg/util.go", "package pkg"),
	}
	data, err := Serialize(in)
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"src/main.go", "src/pkg/"}, got["src/"].Children)
	assert.Equal(t, []string{"src/pkg/util.go"}, got["src/pkg/"].Children)
	assert.Len(t, got, 4)
}

func TestSerializeDeterministic(t *testing.T) {
	a, err := Serialize(scenarioTree())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		b, err := Serialize(scenarioTree())
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestSerializeBinaryNeverCarriesContent(t *testing.T) {
	bin := models.NewBinary("img.png")
	bin.Content = models.Text("not serialized")
	data, err := Serialize(models.Tree{"img.png": bin})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "not serialized")
	// header, count, len, path, flags
	assert.Equal(t, byte(flagBinary), data[len(data)-1])
}

func TestDeserializeIgnoresContentOnBinary(t *testing.T) {
	data := []byte{'F', 'T', Version, 1, 1, 'x', flagBinary | flagContent, 3, 'a', 'b', 'c'}
	got, err := Deserialize(data)
	require.NoError(t, err)
	require.Contains(t, got, "x")
	assert.True(t, got["x"].IsBinary)
	assert.Nil(t, got["x"].Content)
}

func TestDeserializeCorrupt(t *testing.T) {
	valid, err := Serialize(scenarioTree())
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte{'X', 'T', Version, 0}},
		{"bad version", []byte{'F', 'T', 0x09, 0}},
		{"missing count", []byte{'F', 'T', Version}},
		{"count exceeds buffer", []byte{'F', 'T', Version, 50, 1, 'a', 0}},
		{"varint overflow", append([]byte{'F', 'T', Version}, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01)},
		{"path past end", []byte{'F', 'T', Version, 1, 9, 'a', 0}},
		{"missing flags", []byte{'F', 'T', Version, 1, 1, 'a'}},
		{"content past end", []byte{'F', 'T', Version, 1, 1, 'a', flagContent, 5, 'h'}},
		{"empty path", []byte{'F', 'T', Version, 1, 0, 0}},
		{"truncated", valid[:len(valid)-2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Deserialize(tt.data)
			assert.ErrorIs(t, err, protocol.ErrCorruptPayload)
			assert.Nil(t, got)
		})
	}
}

func TestDeserializeIgnoresTrailingBytes(t *testing.T) {
	data, err := Serialize(scenarioTree())
	require.NoError(t, err)
	got, err := Deserialize(append(data, 0xde, 0xad))
	require.NoError(t, err)
	assert.True(t, tree.SameFiles(scenarioTree(), got))
}
