package imagex

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"
)

// DarkMeanThreshold is the mean channel intensity below which a candidate is
// treated as an inverted capture and flipped back. The value matches the
// detection service's output characteristics; legitimately dark photos can
// trip it, which is why the correction is logged.
const DarkMeanThreshold = 50

// ToRGBA returns a mutable RGBA copy of src.
func ToRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// SwapRB exchanges the red and blue channels in place. The detection service
// emits BGR-ordered pixels; decoded naively they arrive here swapped.
func SwapRB(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			i := x * 4
			row[i], row[i+2] = row[i+2], row[i]
		}
	}
}

// MeanIntensity averages the R, G and B channels over the whole image.
func MeanIntensity(img *image.RGBA) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	var sum uint64
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			sum += uint64(row[x]) + uint64(row[x+1]) + uint64(row[x+2])
		}
	}
	return float64(sum) / float64(w*h*3)
}

// InvertIfDark flips all channels (v -> 255-v) when the mean intensity falls
// below DarkMeanThreshold. Returns true if the image was inverted.
func InvertIfDark(img *image.RGBA) bool {
	if MeanIntensity(img) >= DarkMeanThreshold {
		return false
	}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255 - img.Pix[i]
		img.Pix[i+1] = 255 - img.Pix[i+1]
		img.Pix[i+2] = 255 - img.Pix[i+2]
	}
	log.Info().Msg("dark candidate detected, inverted channels")
	return true
}

// Normalize applies the fixed post-processing every raw candidate goes
// through before it is considered for selection: channel-order correction
// followed by inversion correction.
func Normalize(src image.Image, bgr bool) *image.RGBA {
	img := ToRGBA(src)
	if bgr {
		SwapRB(img)
	}
	InvertIfDark(img)
	return img
}

// FitRect returns the largest width/height that fits (w,h) inside
// (boxW,boxH) preserving aspect ratio.
func FitRect(w, h, boxW, boxH int) (int, int) {
	if w <= 0 || h <= 0 || boxW <= 0 || boxH <= 0 {
		return 0, 0
	}
	if w*boxH > h*boxW {
		// width-bound
		return boxW, h * boxW / w
	}
	return w * boxH / h, boxH
}

// Thumbnail scales src down to fit inside maxW x maxH. Images already
// inside the box are returned unscaled.
func Thumbnail(src image.Image, maxW, maxH int) *image.RGBA {
	b := src.Bounds()
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return ToRGBA(src)
	}
	w, h := FitRect(b.Dx(), b.Dy(), maxW, maxH)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEGBounded re-encodes img stepping quality down from 85 until the
// payload fits maxBytes or quality bottoms out at 10. Images wider than
// maxWidth are downscaled first. Same logical content, bounded byte size.
func EncodeJPEGBounded(img image.Image, maxWidth, maxBytes int) ([]byte, error) {
	b := img.Bounds()
	if maxWidth > 0 && b.Dx() > maxWidth {
		img = Thumbnail(img, maxWidth, b.Dy()*maxWidth/b.Dx())
	}
	quality := 85
	for {
		data, err := EncodeJPEG(img, quality)
		if err != nil {
			return nil, err
		}
		if maxBytes <= 0 || len(data) <= maxBytes || quality <= 10 {
			return data, nil
		}
		quality -= 5
	}
}
