package attachments

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"repoport/internal/errs"
)

// Attachments above this size are refused rather than buffered.
const maxAttachmentSize = 100 << 20

// File is one downloaded attachment ready for upload.
type File struct {
	Name    string
	Content []byte
}

// Fetcher downloads remote attachments. Transient failures retry with
// exponential backoff; rate limits and missing resources do not.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Fetcher{client: client}
}

func (f *Fetcher) Download(ctx context.Context, rawURL string) (File, error) {
	var file File
	op := func() error {
		got, err := f.downloadOnce(ctx, rawURL)
		if err != nil {
			return err
		}
		file = got
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return File{}, err
	}
	return file, nil
}

func (f *Fetcher) downloadOnce(ctx context.Context, rawURL string) (File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return File{}, backoff.Permanent(fmt.Errorf("attachment request: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("attachment fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("Retry-After") != "":
		return File{}, backoff.Permanent(errs.RateLimited(retryAfter(resp)))
	case resp.StatusCode == http.StatusNotFound:
		return File{}, backoff.Permanent(errs.NotFound("attachment %s", rawURL))
	case resp.StatusCode >= 500:
		return File{}, fmt.Errorf("attachment fetch %s: status %d", rawURL, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return File{}, backoff.Permanent(fmt.Errorf("attachment fetch %s: status %d", rawURL, resp.StatusCode))
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentSize+1))
	if err != nil {
		return File{}, fmt.Errorf("attachment read %s: %w", rawURL, err)
	}
	if len(content) > maxAttachmentSize {
		return File{}, backoff.Permanent(fmt.Errorf("attachment %s exceeds %d bytes", rawURL, maxAttachmentSize))
	}

	return File{
		Name:    normalizeName(rawURL, content),
		Content: content,
	}, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Minute
}

// videoExtensions maps sniffed media types of supported video containers
// to the extension the upload service expects.
var videoExtensions = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/avi":       ".avi",
	"video/quicktime": ".mov",
}

// normalizeName derives the upload filename from the URL. Attachment URLs
// for videos often carry no extension; when the sniffed media type is a
// supported video container, the matching extension is appended so the
// upload service recognizes the file.
func normalizeName(rawURL string, content []byte) string {
	name := "attachment"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	if path.Ext(name) != "" {
		return name
	}
	if ext, ok := videoExtensions[sniffMediaType(content)]; ok {
		return name + ext
	}
	return name
}

func sniffMediaType(content []byte) string {
	mediaType := http.DetectContentType(content)
	// DetectContentType may append parameters ("; charset=...").
	for i := 0; i < len(mediaType); i++ {
		if mediaType[i] == ';' {
			return mediaType[:i]
		}
	}
	return mediaType
}
