package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePutGetExists(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ok, err := store.Exists(ctx, "jobs/a/0.png")
	if err != nil || ok {
		t.Fatalf("Exists before put = %v, %v", ok, err)
	}
	if _, err := store.Get(ctx, "jobs/a/0.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing err = %v, want ErrNotFound", err)
	}
	if err := store.Put(ctx, "jobs/a/0.png", []byte("png"), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := store.Get(ctx, "jobs/a/0.png")
	if err != nil || string(data) != "png" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if got := store.URL("jobs/a/0.png"); got != "http://localhost:8080/static/jobs/a/0.png" {
		t.Fatalf("URL = %s", got)
	}
	entries, _ := os.ReadDir(filepath.Join(store.BasePath(), "jobs", "a"))
	if len(entries) != 1 {
		t.Fatalf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "jobs/a/0.png", want: "jobs/a/0.png"},
		{in: "/jobs//a/./0.png", want: "jobs/a/0.png"},
		{in: `jobs\a\0.png`, want: "jobs/a/0.png"},
		{in: "../etc/passwd", wantErr: true},
		{in: "jobs/../../x", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := sanitizeKey(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("sanitizeKey(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

type countingStore struct {
	*FileStore
	puts int
}

func (c *countingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	c.puts++
	return c.FileStore.Put(ctx, key, data, contentType)
}

func TestPersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir(), "/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store := &countingStore{FileStore: fs}

	if _, ok, err := LoadManifest(ctx, store, "job-1"); ok || err != nil {
		t.Fatalf("LoadManifest before persist = %v, %v", ok, err)
	}
	blobs := []Blob{{Data: []byte("a"), MIME: "image/png", Width: 4, Height: 4}, {Data: []byte("b"), MIME: "video/mp4"}}
	m, err := Persist(ctx, store, Manifest{JobID: "job-1", Provider: "gemini", Model: "m"}, blobs)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if m.Artifacts[0].Key != "jobs/job-1/0.png" || m.Artifacts[1].Key != "jobs/job-1/1.mp4" {
		t.Fatalf("unexpected keys %+v", m.Artifacts)
	}
	if store.puts != 3 {
		t.Fatalf("puts = %d, want 3", store.puts)
	}

	if _, err := Persist(ctx, store, Manifest{JobID: "job-1"}, blobs); err != nil {
		t.Fatalf("Persist replay: %v", err)
	}
	if store.puts != 4 {
		t.Fatalf("replay rewrote assets: puts = %d, want 4", store.puts)
	}

	loaded, ok, err := LoadManifest(ctx, store, "job-1")
	if err != nil || !ok {
		t.Fatalf("LoadManifest = %v, %v", ok, err)
	}
	res := loaded.Result()
	if res.ArtifactURL != "/static/jobs/job-1/0.png" || len(res.Artifacts) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMinioPublicURL(t *testing.T) {
	if got := minioPublicURL(MinioOptions{Endpoint: "minio:9000", Bucket: "b"}); got != "http://minio:9000/b" {
		t.Fatalf("got %s", got)
	}
	if got := minioPublicURL(MinioOptions{Endpoint: "s3", Bucket: "b", UseSSL: true, PublicURL: "https://cdn.example.com/"}); got != "https://cdn.example.com" {
		t.Fatalf("got %s", got)
	}
}
