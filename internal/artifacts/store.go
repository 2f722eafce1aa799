// Package artifacts persists generated assets under deterministic per-job
// keys. A manifest written after the assets marks a job's output complete.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"brandgen/internal/domain"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("artifacts: not found")

// Store is an object store addressed by slash-separated keys.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
}

// Blob is one asset to persist.
type Blob struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Manifest records the persisted output of one job.
type Manifest struct {
	JobID     string            `json:"jobID"`
	Artifacts []domain.Artifact `json:"artifacts"`
	Text      string            `json:"text,omitempty"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Cost      float64           `json:"cost"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Key returns the key of the index-th asset of a job.
func Key(jobID string, index int, contentType string) string {
	return fmt.Sprintf("jobs/%s/%d%s", jobID, index, extensionFor(contentType))
}

// ManifestKey returns the key of a job's manifest.
func ManifestKey(jobID string) string {
	return "jobs/" + jobID + "/manifest.json"
}

// LoadManifest returns the job's manifest when one was written.
func LoadManifest(ctx context.Context, s Store, jobID string) (*Manifest, bool, error) {
	data, err := s.Get(ctx, ManifestKey(jobID))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, true, nil
}

// Persist writes every blob and then the manifest. Assets that already exist
// under their key are not rewritten.
func Persist(ctx context.Context, s Store, m Manifest, blobs []Blob) (*Manifest, error) {
	m.Artifacts = make([]domain.Artifact, 0, len(blobs))
	for i, blob := range blobs {
		contentType := blob.MIME
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		key := Key(m.JobID, i, contentType)
		exists, err := s.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", key, err)
		}
		if !exists {
			if err := s.Put(ctx, key, blob.Data, contentType); err != nil {
				return nil, fmt.Errorf("put %s: %w", key, err)
			}
		}
		m.Artifacts = append(m.Artifacts, domain.Artifact{
			Key:    key,
			URL:    s.URL(key),
			MIME:   contentType,
			Width:  blob.Width,
			Height: blob.Height,
			Bytes:  int64(len(blob.Data)),
		})
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.Put(ctx, ManifestKey(m.JobID), data, "application/json"); err != nil {
		return nil, fmt.Errorf("put manifest: %w", err)
	}
	return &m, nil
}

// Result converts a manifest into the job result shape.
func (m *Manifest) Result() *domain.JobResult {
	res := &domain.JobResult{
		Artifacts: append([]domain.Artifact(nil), m.Artifacts...),
		Text:      m.Text,
		Provider:  m.Provider,
		Model:     m.Model,
	}
	if len(m.Artifacts) > 0 {
		res.ArtifactURL = m.Artifacts[0].URL
	}
	return res
}

var knownExtensions = map[string]string{
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"image/webp":       ".webp",
	"video/mp4":        ".mp4",
	"application/json": ".json",
	"text/plain":       ".txt",
}

func extensionFor(contentType string) string {
	base := strings.TrimSpace(strings.ToLower(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := knownExtensions[base]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("artifacts: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("artifacts: invalid key")
	}
	return cleaned, nil
}
