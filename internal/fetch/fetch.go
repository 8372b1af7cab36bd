package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/local/cardbatch/internal/storage"
)

// Resolver turns a source reference into raw bytes. Supported schemes:
// http(s)://, s3://bucket/key, file:// and plain filesystem paths.
type Resolver struct {
	http *http.Client
	s3   *storage.S3Client
}

// New builds a resolver. s3 may be nil when no AWS access is configured;
// s3:// references then fail with an explicit error.
func New(s3 *storage.S3Client) *Resolver {
	return &Resolver{
		http: &http.Client{Timeout: 60 * time.Second},
		s3:   s3,
	}
}

// Fetch resolves ref and returns its bytes plus the sniffed MIME type.
func (r *Resolver) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	var data []byte
	var err error
	switch {
	case strings.HasPrefix(ref, "s3://"):
		if r.s3 == nil {
			return nil, "", fmt.Errorf("s3 reference %s but no s3 client configured", ref)
		}
		data, err = r.s3.DownloadURL(ctx, ref)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		data, err = r.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		data, err = os.ReadFile(strings.TrimPrefix(ref, "file://"))
	default:
		data, err = os.ReadFile(ref)
	}
	if err != nil {
		return nil, "", err
	}
	mtype := mimetype.Detect(data)
	return data, mtype.String(), nil
}

// FetchImage is Fetch plus a guard that the payload really is an image,
// regardless of what the reference's extension claims.
func (r *Resolver) FetchImage(ctx context.Context, ref string) ([]byte, string, error) {
	data, mime, err := r.Fetch(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", fmt.Errorf("reference %s resolved to %s, not an image", ref, mime)
	}
	return data, mime, nil
}

func (r *Resolver) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
