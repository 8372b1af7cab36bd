package assemble

import (
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/cardbatch/internal/config"
	"github.com/local/cardbatch/internal/metrics"
)

// ErrNothingToAssemble is the terminal outcome when no finalized images
// exist at assembly time. It is reported, not fatal.
var ErrNothingToAssemble = errors.New("nothing to assemble")

// Engine lays finalized images out into a paginated PDF.
type Engine struct {
	rend    *Renderer
	outDir  string
	quality int
}

func NewEngine(cfg config.AssemblyConfig) *Engine {
	return &Engine{
		rend:    NewRenderer(cfg.GridRows, cfg.GridCols, cfg.PageDPI, cfg.FontPaths),
		outDir:  cfg.OutputDir,
		quality: cfg.JPEGQuality,
	}
}

// Assemble orders and paginates items, composes each page image under
// workDir and imports them into outName under the output directory.
// Partial input is fine; whatever items exist are assembled. The caller
// owns workDir and removes it on run teardown.
func (e *Engine) Assemble(workDir string, items []Item, outName string) (string, error) {
	ordered := Order(items)
	pages := Paginate(ordered, e.rend.PerPage())
	if len(pages) == 0 {
		return "", ErrNothingToAssemble
	}

	pagePaths := make([]string, 0, len(pages))
	for i, pageItems := range pages {
		img := e.rend.RenderPage(pageItems, i+1, len(pages))
		p := filepath.Join(workDir, fmt.Sprintf("page_%03d.jpg", i+1))
		f, err := os.Create(p)
		if err != nil {
			return "", fmt.Errorf("create page image: %w", err)
		}
		if err := jpeg.Encode(f, img, &jpeg.Options{Quality: e.quality}); err != nil {
			f.Close()
			return "", fmt.Errorf("encode page %d: %w", i+1, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("flush page %d: %w", i+1, err)
		}
		pagePaths = append(pagePaths, p)
	}

	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	outPath := filepath.Join(e.outDir, outName)
	if err := api.ImportImagesFile(pagePaths, outPath, nil, nil); err != nil {
		return "", fmt.Errorf("import pages into pdf: %w", err)
	}
	n, err := api.PageCountFile(outPath)
	if err != nil {
		return "", fmt.Errorf("validate pdf: %w", err)
	}
	if n != len(pages) {
		return "", fmt.Errorf("pdf has %d pages, expected %d", n, len(pages))
	}

	metrics.AddPagesAssembled(len(pages))
	log.Info().Str("path", outPath).Int("images", len(ordered)).Int("pages", n).Msg("document assembled")
	return outPath, nil
}
