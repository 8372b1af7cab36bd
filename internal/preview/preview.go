package preview

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// RenderPageJPEG renders one page of an assembled document as JPEG bytes
// for the operator UI. pageNum is 1-based.
func RenderPageJPEG(pdfPath string, pageNum, dpi, quality int) ([]byte, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	if pageNum < 1 || pageNum > doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (document has %d)", pageNum, doc.NumPage())
	}
	img, err := doc.ImageDPI(pageNum-1, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", pageNum, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	log.Debug().Int("page", pageNum).Int("bytes", buf.Len()).Msg("rendered page preview")
	return buf.Bytes(), nil
}
