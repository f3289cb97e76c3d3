package tree

import (
	"reflect"
	"testing"

	"github.com/AtharvRG/fractal/pkg/models"
)

func sample() models.Tree {
	return models.Tree{
		"a.txt":     models.NewFile("a.txt", "hello"),
		"dir/":      models.NewDir("dir/", "dir/b.bin"),
		"dir/b.bin": models.NewBinary("dir/b.bin"),
	}
}

func TestSortedIDs(t *testing.T) {
	got := SortedIDs(sample())
	want := []string{"a.txt", "dir/", "dir/b.bin"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortedIDs = %v, want %v", got, want)
	}
}

func TestCountNodes(t *testing.T) {
	files, dirs := CountNodes(sample())
	if files != 2 || dirs != 1 {
		t.Errorf("CountNodes = (%d, %d), want (2, 1)", files, dirs)
	}
}

func TestTopLevel(t *testing.T) {
	got := TopLevel(sample())
	want := []string{"a.txt", "dir/"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopLevel = %v, want %v", got, want)
	}
}

func TestNormalize(t *testing.T) {
	bin := models.NewBinary("x/y/z.png")
	bin.Content = models.Text("should be dropped")
	tr := models.Tree{
		"x/y/z.png": bin,
		"x/readme":  models.NewFile("x/readme", "hi"),
	}

	Normalize(tr)

	if err := Validate(tr); err != nil {
		t.Fatalf("Validate after Normalize: %v", err)
	}
	if tr["x/y/z.png"].Content != nil {
		t.Error("binary content should be dropped")
	}
	if got := tr["x/"].Children; !reflect.DeepEqual(got, []string{"x/readme", "x/y/"}) {
		t.Errorf("x/ children = %v", got)
	}
	if got := tr["x/y/"].Children; !reflect.DeepEqual(got, []string{"x/y/z.png"}) {
		t.Errorf("x/y/ children = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tree    models.Tree
		wantErr bool
	}{
		{"valid", sample(), false},
		{"missing parent", models.Tree{"d/f": models.NewFile("d/f", "")}, true},
		{"file id with slash", models.Tree{"d/": {ID: "d/", Name: "d"}}, true},
		{"binary with content", models.Tree{"b": {ID: "b", Name: "b", IsBinary: true, Content: models.Text("x")}}, true},
		{"id mismatch", models.Tree{"a": models.NewFile("b", "")}, true},
	}

	for _, tt := range tests {
		err := Validate(tt.tree)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate err=%v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestRawSize(t *testing.T) {
	tr := sample()
	tr["c.txt"] = models.NewFile("c.txt", "héllo")
	if got := RawSize(tr); got != int64(len("hello")+len("héllo")) {
		t.Errorf("RawSize = %d", got)
	}
}

func TestSameFiles(t *testing.T) {
	a := sample()
	b := sample()
	delete(b, "dir/")
	if !SameFiles(a, b) {
		t.Error("directory nodes should not affect SameFiles")
	}

	b["a.txt"] = models.NewFile("a.txt", "bye")
	if SameFiles(a, b) {
		t.Error("differing content should not compare equal")
	}
}
