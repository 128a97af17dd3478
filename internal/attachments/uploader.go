package attachments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// DiskUploader stores uploads under a local directory and hands back browse
// URLs rooted at urlBase. It fills the file-storage role for single-host
// deployments; anything bigger plugs its own Uploader in.
type DiskUploader struct {
	dir     string
	urlBase string
}

func NewDiskUploader(dir, urlBase string) (*DiskUploader, error) {
	if dir == "" {
		return nil, fmt.Errorf("attachments: upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("attachments: upload dir: %w", err)
	}
	return &DiskUploader{dir: dir, urlBase: urlBase}, nil
}

func (u *DiskUploader) Upload(_ context.Context, filename string, content []byte) (string, error) {
	// Content-addressed subdirectory keeps distinct files with the same
	// name apart and makes re-uploads idempotent.
	sum := sha256.Sum256(content)
	secret := hex.EncodeToString(sum[:16])

	dir := filepath.Join(u.dir, secret)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("attachments: upload: %w", err)
	}
	name := filepath.Base(filename)
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		return "", fmt.Errorf("attachments: upload: %w", err)
	}
	return fmt.Sprintf("%s/uploads/%s/%s", u.urlBase, secret, name), nil
}
