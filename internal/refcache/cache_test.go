package refcache

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.SetRGBA(2, 2, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	return img
}

func TestKeyNormalization(t *testing.T) {
	c := New(t.TempDir(), "/file/")
	cases := []struct {
		ref  string
		want string
	}{
		{"http://host/file/a/b/card.jpg", "a/b/card.jpg"},
		{"/file/a/b/card.jpg", "a/b/card.jpg"},
		{"http://host/file/caf%C3%A9.png", "caf_.png"},
		{"http://host/photos/c d.jpg", "photos/c_d.jpg"},
		{"plain/path.png", "plain/path.png"},
	}
	for _, tc := range cases {
		if got := c.Key(tc.ref); got != tc.want {
			t.Errorf("Key(%q) = %q, want %q", tc.ref, got, tc.want)
		}
	}
}

func TestKeyEquivalenceSharesArtifact(t *testing.T) {
	c := New(t.TempDir(), "/file/")
	r1 := "http://host-a/file/x/card.jpg"
	r2 := "http://host-b/file/x/card.jpg"
	if c.Key(r1) != c.Key(r2) {
		t.Fatalf("keys differ: %q vs %q", c.Key(r1), c.Key(r2))
	}

	p, err := c.Store(r2, testImage())
	if err != nil {
		t.Fatal(err)
	}
	got, ok := c.Lookup(r1)
	if !ok {
		t.Fatal("lookup via equivalent reference missed")
	}
	if got != p {
		t.Errorf("lookup returned %q, stored at %q", got, p)
	}
}

func TestLookupMissNeverCreates(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, "/file/")
	if _, ok := c.Lookup("http://h/file/nothing.jpg"); ok {
		t.Fatal("lookup reported a hit on an empty cache")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("lookup created %d entries", len(entries))
	}
}

func TestStoreIdempotent(t *testing.T) {
	c := New(t.TempDir(), "/file/")
	ref := "http://h/file/dup.jpg"
	p1, err := c.Store(ref, testImage())
	if err != nil {
		t.Fatal(err)
	}
	p2, err := c.Store(ref, testImage())
	if err != nil {
		t.Fatalf("second store failed: %v", err)
	}
	if p1 != p2 {
		t.Errorf("paths differ: %q vs %q", p1, p2)
	}
	got, ok := c.Lookup(ref)
	if !ok || got != p1 {
		t.Errorf("lookup after repeat store: %q ok=%v", got, ok)
	}
	info, err := os.Stat(got)
	if err != nil || info.Size() == 0 {
		t.Errorf("artifact unreadable after repeat store: %v", err)
	}
}

func TestStoreAtDistinctArtifacts(t *testing.T) {
	c := New(t.TempDir(), "/file/")
	ref := "http://h/file/multi.png"
	p0, err := c.StoreAt(ref, 0, testImage())
	if err != nil {
		t.Fatal(err)
	}
	p1, err := c.StoreAt(ref, 1, testImage())
	if err != nil {
		t.Fatal(err)
	}
	if p0 == p1 {
		t.Fatal("candidate artifacts collided")
	}
	if !strings.HasSuffix(p1, "_2.png") {
		t.Errorf("second candidate path = %q, want _2.png suffix", p1)
	}
	for _, p := range []string{p0, p1} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing artifact %q: %v", p, err)
		}
	}
}

func TestStoreCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, "/file/")
	p, err := c.Store("http://h/file/deep/nested/tree/img.jpg", testImage())
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "deep", "nested", "tree", "img.jpg")
	if p != want {
		t.Errorf("stored at %q, want %q", p, want)
	}
}

func TestStoreFormatsByExtension(t *testing.T) {
	c := New(t.TempDir(), "/file/")
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".webp", ".xyz"} {
		p, err := c.Store("http://h/file/img"+ext, testImage())
		if err != nil {
			t.Errorf("store %s: %v", ext, err)
			continue
		}
		info, err := os.Stat(p)
		if err != nil || info.Size() == 0 {
			t.Errorf("empty artifact for %s", ext)
		}
	}
}
