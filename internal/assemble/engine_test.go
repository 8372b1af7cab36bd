package assemble

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/local/cardbatch/internal/config"
	"github.com/local/cardbatch/internal/manifest"
)

func writeTestJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 60, 40))
	for i := range img.Pix {
		img.Pix[i] = 180
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
	return p
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(config.AssemblyConfig{
		OutputDir:   t.TempDir(),
		GridRows:    4,
		GridCols:    2,
		PageDPI:     72,
		JPEGQuality: 80,
	})
}

func TestAssembleNineImagesTwoPages(t *testing.T) {
	srcDir := t.TempDir()
	items := make([]Item, 9)
	for i := range items {
		items[i] = Item{
			Path:        writeTestJPEG(t, srcDir, fmt.Sprintf("img%d.jpg", i)),
			Side:        manifest.SideFront,
			RowIndex:    i,
			DisplayName: "Row",
		}
	}

	e := testEngine(t)
	out, err := e.Assemble(t.TempDir(), items, "result.pdf")
	if err != nil {
		t.Fatal(err)
	}
	n, err := api.PageCountFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("got %d pages, want 2", n)
	}
}

func TestAssembleNothing(t *testing.T) {
	e := testEngine(t)
	if _, err := e.Assemble(t.TempDir(), nil, "empty.pdf"); err != ErrNothingToAssemble {
		t.Errorf("err = %v, want ErrNothingToAssemble", err)
	}
}

func TestAssembleSkipsUndecodable(t *testing.T) {
	srcDir := t.TempDir()
	bad := filepath.Join(srcDir, "bad.jpg")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	items := []Item{
		{Path: writeTestJPEG(t, srcDir, "ok.jpg"), Side: manifest.SideFront, RowIndex: 0, DisplayName: "A"},
		{Path: bad, Side: manifest.SideBack, RowIndex: 0, DisplayName: "A"},
	}

	e := testEngine(t)
	out, err := e.Assemble(t.TempDir(), items, "partial.pdf")
	if err != nil {
		t.Fatalf("undecodable image aborted assembly: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatal(err)
	}
}

func TestRenderPageSize(t *testing.T) {
	r := NewRenderer(4, 2, 72, nil)
	page := r.RenderPage(nil, 1, 1)
	b := page.Bounds()
	dpi := float64(72)
	if b.Dx() != int(pageWidthIn*dpi) || b.Dy() != int(pageHeightIn*dpi) {
		t.Errorf("page size %dx%d", b.Dx(), b.Dy())
	}
}
