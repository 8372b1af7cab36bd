package extract

import (
	"context"
	"errors"
	"image"

	// Register the formats source photos and candidates arrive in.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Extractor is the uniform contract over the external card-detection
// capability: reference in, ordered candidate images out. An empty slice
// means nothing was detected; an error means the attempt itself failed.
type Extractor interface {
	Extract(ctx context.Context, reference string) ([]*image.RGBA, error)
}

// ErrUnavailable marks transport or service failures; callers degrade the
// affected side to "not detected" and keep the batch moving.
var ErrUnavailable = errors.New("extraction service unavailable")
