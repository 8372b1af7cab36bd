package refcache

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// unsafeChars matches everything a cache key may not contain.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._/-]`)

// Cache maps normalized source references to image artifacts stored under a
// fixed root directory. The filesystem itself is the cache; entries are
// created once and treated as immutable afterwards.
type Cache struct {
	root   string
	prefix string
}

// New returns a cache rooted at dir. prefix (for example "/file/") is
// stripped from reference paths when deriving keys.
func New(dir, prefix string) *Cache {
	return &Cache{root: dir, prefix: prefix}
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

// Key normalizes a source reference into a cache key: the URL path with the
// configured prefix removed, percent-decoded, leading separator dropped and
// every character outside [A-Za-z0-9._/-] replaced by '_'. References that
// normalize identically address the same entry.
func (c *Cache) Key(reference string) string {
	p := reference
	if u, err := url.Parse(reference); err == nil && u.Path != "" {
		p = u.EscapedPath()
	}
	if dec, err := url.PathUnescape(p); err == nil {
		p = dec
	}
	if c.prefix != "" {
		p = strings.TrimPrefix(p, c.prefix)
	}
	p = strings.TrimPrefix(p, "/")
	return unsafeChars.ReplaceAllString(p, "_")
}

// Path returns the artifact location for a reference without touching the
// filesystem.
func (c *Cache) Path(reference string) string {
	return filepath.Join(c.root, filepath.FromSlash(c.Key(reference)))
}

// Lookup reports whether an artifact exists for the reference. It never
// triggers extraction.
func (c *Cache) Lookup(reference string) (string, bool) {
	p := c.Path(reference)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p, true
}

// Store writes img as the artifact for reference and returns its path. The
// encoding follows the reference's file extension when recognized and falls
// back to JPEG otherwise. Parent directories are created as needed; write
// errors are returned to the caller.
func (c *Cache) Store(reference string, img image.Image) (string, error) {
	return c.StoreAt(reference, 0, img)
}

// StoreAt writes the candidate at index idx for reference. Index 0 uses the
// canonical artifact path; higher indices get a "_N" suffix so a multi-select
// yields distinct artifacts for the same reference.
func (c *Cache) StoreAt(reference string, idx int, img image.Image) (string, error) {
	p := c.Path(reference)
	if idx > 0 {
		ext := filepath.Ext(p)
		p = strings.TrimSuffix(p, ext) + fmt.Sprintf("_%d", idx+1) + ext
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeByExt(&buf, img, strings.ToLower(filepath.Ext(p))); err != nil {
		return "", err
	}

	// Write via temp + rename so repeated stores for the same key stay
	// idempotent and readers never see a partial artifact.
	tmp, err := os.CreateTemp(filepath.Dir(p), ".cardbatch-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("finalize artifact: %w", err)
	}
	log.Debug().Str("path", p).Msg("stored cache artifact")
	return p, nil
}

// encodeByExt picks the encoder from the artifact extension. WebP has no
// pure-Go encoder, so .webp (like unrecognized extensions) is stored as JPEG
// content under the derived path.
func encodeByExt(buf *bytes.Buffer, img image.Image, ext string) error {
	var err error
	switch ext {
	case ".png":
		err = png.Encode(buf, img)
	case ".bmp", ".dib":
		err = bmp.Encode(buf, img)
	case ".tif", ".tiff":
		err = tiff.Encode(buf, img, nil)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(buf, img, &jpeg.Options{Quality: 85})
	default:
		err = jpeg.Encode(buf, img, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return fmt.Errorf("encode artifact (%s): %w", ext, err)
	}
	return nil
}
