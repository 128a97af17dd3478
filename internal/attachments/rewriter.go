// Package attachments rewrites externally hosted file links inside
// free-text bodies into internally stored uploads. Rewriting is resumable:
// work proceeds link by link over one buffer, and a rate-limit error
// surfaces the partially rewritten buffer so no completed link is ever
// re-downloaded.
package attachments

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"repoport/internal/errs"
)

// Uploader is the internal file-storage service boundary.
type Uploader interface {
	// Upload stores the file content and returns its internal URL.
	Upload(ctx context.Context, filename string, content []byte) (string, error)
}

// Link URL extraction. Group 2 is the URL in every pattern, so replacing
// only that span preserves alt text and surrounding markup.
var (
	markdownLinkRE = regexp.MustCompile(`(!?\[[^\]]*\]\()([^)\s]+)(\))`)
	htmlImgRE      = regexp.MustCompile(`(<img[^>]*?src=")([^"]+)(")`)
)

// blobPathRE matches a repository browse path: /<owner>/<repo>/blob/<ref>/<path>.
var blobPathRE = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/blob/(.+)$`)

// attachment hosts whose content must be downloaded and re-uploaded.
var attachmentHostPrefixes = []string{
	"https://user-images.githubusercontent.com/",
	"https://private-user-images.githubusercontent.com/",
	"https://github.com/user-attachments/assets/",
	"https://github.com/user-attachments/files/",
}

type Rewriter struct {
	owner        string
	repo         string
	internalBase string // browse URL base of the target project, no trailing slash
	fetcher      *Fetcher
	uploader     Uploader
	log          logrus.FieldLogger
}

func NewRewriter(owner, repo, internalBase string, fetcher *Fetcher, uploader Uploader, log logrus.FieldLogger) (*Rewriter, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("attachments: nil fetcher")
	}
	if uploader == nil {
		return nil, fmt.Errorf("attachments: nil uploader")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Rewriter{
		owner:        owner,
		repo:         repo,
		internalBase: strings.TrimRight(internalBase, "/"),
		fetcher:      fetcher,
		uploader:     uploader,
		log:          log,
	}, nil
}

// NeedsRewrite reports whether text contains any link this rewriter would
// touch, letting importers skip the whole machinery for plain bodies.
func (r *Rewriter) NeedsRewrite(text string) bool {
	for _, url := range extractURLs(text) {
		if r.classify(url) != linkForeign {
			return true
		}
	}
	return false
}

type linkClass int

const (
	linkForeign linkClass = iota // leave untouched
	linkBlob                     // same-project browse path: rewrite URL only
	linkUpload                   // download, re-upload, replace
)

func (r *Rewriter) classify(url string) linkClass {
	for _, prefix := range attachmentHostPrefixes {
		if strings.HasPrefix(url, prefix) {
			return linkUpload
		}
	}
	// Project file attachments live under the repository path.
	if strings.HasPrefix(url, fmt.Sprintf("https://github.com/%s/%s/files/", r.owner, r.repo)) {
		return linkUpload
	}
	if m := blobPathRE.FindStringSubmatch(url); m != nil {
		if m[1] == r.owner && m[2] == r.repo {
			return linkBlob
		}
		// A blob link into some other project stays as it is.
		return linkForeign
	}
	return linkForeign
}

// Rewrite replaces rewritable links in text and returns the result. On a
// rate-limit error the returned text holds every link completed so far and
// the error carries the cooldown: callers must persist the buffer before
// propagating, and a retry will only see the still-unrewritten links
// because completed ones no longer match the remote patterns.
func (r *Rewriter) Rewrite(ctx context.Context, text string) (string, error) {
	for {
		url, start, end, ok := r.nextRewritable(text)
		if !ok {
			return text, nil
		}

		replacement, err := r.rewriteOne(ctx, url)
		if err != nil {
			if _, limited := errs.AsRateLimited(err); limited {
				// First rate-limit wins; the buffer keeps links 1..N-1.
				return text, err
			}
			// A single broken attachment is not worth failing the object:
			// keep the original link and move on.
			r.log.WithError(err).WithField("url", url).Warn("attachment rewrite skipped")
			replacement = url
		}
		if replacement == url {
			// Nothing changed; skip past it to avoid rescanning forever.
			rest, err2 := r.rewriteTail(ctx, text[end:])
			return text[:end] + rest, err2
		}
		text = text[:start] + replacement + text[end:]
	}
}

// rewriteTail continues rewriting after a link that was deliberately left
// in place.
func (r *Rewriter) rewriteTail(ctx context.Context, tail string) (string, error) {
	return r.Rewrite(ctx, tail)
}

// nextRewritable locates the first link needing work in text, returning
// its URL and span.
func (r *Rewriter) nextRewritable(text string) (url string, start, end int, ok bool) {
	best := -1
	for _, re := range []*regexp.Regexp{markdownLinkRE, htmlImgRE} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			s, e := m[4], m[5]
			if r.classify(text[s:e]) == linkForeign {
				continue
			}
			if best == -1 || s < best {
				best, start, end = s, s, e
			}
		}
	}
	if best == -1 {
		return "", 0, 0, false
	}
	return text[start:end], start, end, true
}

func (r *Rewriter) rewriteOne(ctx context.Context, url string) (string, error) {
	switch r.classify(url) {
	case linkBlob:
		m := blobPathRE.FindStringSubmatch(url)
		return fmt.Sprintf("%s/-/blob/%s", r.internalBase, m[3]), nil
	case linkUpload:
		file, err := r.fetcher.Download(ctx, url)
		if err != nil {
			return "", err
		}
		internal, err := r.uploader.Upload(ctx, file.Name, file.Content)
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", file.Name, err)
		}
		return internal, nil
	default:
		return url, nil
	}
}

func extractURLs(text string) []string {
	var urls []string
	for _, re := range []*regexp.Regexp{markdownLinkRE, htmlImgRE} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			urls = append(urls, m[2])
		}
	}
	return urls
}
