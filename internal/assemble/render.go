package assemble

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	// Cached artifacts come back in whatever format the reference's
	// extension picked.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/local/cardbatch/internal/imagex"
	"github.com/local/cardbatch/internal/metrics"
)

// A4 aspect in inches; page pixel size follows the configured DPI.
const (
	pageWidthIn  = 8.27
	pageHeightIn = 11.69
)

// Renderer composes one output page: a fixed grid of captioned images plus
// a page footer, on a white A4-proportioned canvas.
type Renderer struct {
	rows, cols int
	dpi        int
	face       font.Face
}

// NewRenderer probes fontPaths for a usable caption font; the first file
// that parses wins, otherwise a built-in bitmap face is used (captions stay
// legible, just small).
func NewRenderer(rows, cols, dpi int, fontPaths []string) *Renderer {
	return &Renderer{
		rows: rows,
		cols: cols,
		dpi:  dpi,
		face: loadFace(fontPaths, float64(dpi)/12),
	}
}

// PerPage is the grid capacity.
func (r *Renderer) PerPage() int { return r.rows * r.cols }

// RenderPage draws the given items row-major into the grid and returns the
// composed page. Items that cannot be opened or decoded are skipped with a
// warning; the cell stays empty.
func (r *Renderer) RenderPage(items []Item, pageNum, totalPages int) *image.RGBA {
	pageW := int(pageWidthIn * float64(r.dpi))
	pageH := int(pageHeightIn * float64(r.dpi))
	page := image.NewRGBA(image.Rect(0, 0, pageW, pageH))
	draw.Draw(page, page.Bounds(), image.White, image.Point{}, draw.Src)

	margin := pageW / 24
	captionH := r.face.Metrics().Height.Ceil() + r.dpi/24
	footerH := captionH
	gridW := pageW - 2*margin
	gridH := pageH - 2*margin - footerH
	cellW := gridW / r.cols
	cellH := gridH / r.rows
	imgBoxH := cellH - captionH

	for i, it := range items {
		if i >= r.PerPage() {
			break
		}
		col := i % r.cols
		row := i / r.cols
		x0 := margin + col*cellW
		y0 := margin + row*cellH

		src, err := openImage(it.Path)
		if err != nil {
			log.Warn().Str("path", it.Path).Err(err).Msg("skipping undecodable image")
			metrics.IncImageSkipped()
			continue
		}
		b := src.Bounds()
		w, h := imagex.FitRect(b.Dx(), b.Dy(), cellW-r.dpi/12, imgBoxH)
		dx := x0 + (cellW-w)/2
		dy := y0 + (imgBoxH-h)/2
		xdraw.ApproxBiLinear.Scale(page, image.Rect(dx, dy, dx+w, dy+h), src, b, xdraw.Src, nil)

		r.drawCentered(page, Caption(it), x0+cellW/2, y0+imgBoxH+captionH-2)
	}

	r.drawCentered(page, fmt.Sprintf("%d/%d", pageNum, totalPages), pageW/2, pageH-margin/2)
	return page
}

func (r *Renderer) drawCentered(dst *image.RGBA, text string, cx, baselineY int) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: r.face,
	}
	w := d.MeasureString(text).Ceil()
	d.Dot = fixed.P(cx-w/2, baselineY)
	d.DrawString(text)
}

func openImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func loadFace(paths []string, size float64) font.Face {
	if size < 8 {
		size = 8
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		coll, err := opentype.ParseCollection(data)
		if err != nil {
			log.Debug().Str("path", p).Err(err).Msg("caption font rejected")
			continue
		}
		fnt, err := coll.Font(0)
		if err != nil {
			continue
		}
		face, err := opentype.NewFace(fnt, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			continue
		}
		log.Debug().Str("path", p).Msg("caption font loaded")
		return face
	}
	log.Warn().Msg("no caption font found, using built-in bitmap face")
	return basicfont.Face7x13
}
