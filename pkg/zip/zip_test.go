package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssets(t *testing.T) {
	archive, err := ArchiveAssets([]Asset{
		{Filename: "0.png", MIME: "image/png", Data: []byte("png-bytes")},
		{Filename: "0.png", MIME: "image/png", Data: []byte("second")},
		{Filename: "manifest.json", MIME: "application/json", Data: []byte(`{"jobID":"j"}`)},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	want := map[string]struct {
		data   string
		method uint16
	}{
		"0.png":         {"png-bytes", zip.Store},
		"0-1.png":       {"second", zip.Store},
		"manifest.json": {`{"jobID":"j"}`, zip.Deflate},
	}
	if len(zr.File) != len(want) {
		t.Fatalf("entries = %d, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		w, ok := want[f.Name]
		if !ok {
			t.Fatalf("unexpected entry %q", f.Name)
		}
		if f.Method != w.method {
			t.Fatalf("%s method = %d, want %d", f.Name, f.Method, w.method)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		got, _ := io.ReadAll(rc)
		rc.Close()
		if string(got) != w.data {
			t.Fatalf("%s = %q, want %q", f.Name, got, w.data)
		}
	}
}
