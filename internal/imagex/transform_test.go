package imagex

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	_ "image/jpeg"
)

func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestSwapRB(t *testing.T) {
	img := uniform(4, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	SwapRB(img)
	got := img.RGBAAt(2, 2)
	if got.R != 30 || got.G != 20 || got.B != 10 {
		t.Errorf("got %+v, want R=30 G=20 B=10", got)
	}
}

func TestInvertIfDark(t *testing.T) {
	dark := uniform(4, 4, color.RGBA{R: 20, G: 20, B: 20, A: 255})
	if !InvertIfDark(dark) {
		t.Error("dark image not inverted")
	}
	got := dark.RGBAAt(0, 0)
	if got.R != 235 {
		t.Errorf("inverted value = %d, want 235", got.R)
	}

	bright := uniform(4, 4, color.RGBA{R: 60, G: 60, B: 60, A: 255})
	if InvertIfDark(bright) {
		t.Error("bright image inverted")
	}
	if bright.RGBAAt(0, 0).R != 60 {
		t.Error("bright image mutated")
	}
}

func TestInvertThresholdBoundary(t *testing.T) {
	// Mean exactly at the threshold stays untouched.
	at := uniform(4, 4, color.RGBA{R: 50, G: 50, B: 50, A: 255})
	if InvertIfDark(at) {
		t.Error("image at threshold inverted")
	}
	below := uniform(4, 4, color.RGBA{R: 49, G: 49, B: 49, A: 255})
	if !InvertIfDark(below) {
		t.Error("image below threshold not inverted")
	}
}

func TestNormalizeBGR(t *testing.T) {
	src := uniform(4, 4, color.RGBA{R: 200, G: 100, B: 90, A: 255})
	out := Normalize(src, true)
	got := out.RGBAAt(1, 1)
	if got.R != 90 || got.B != 200 {
		t.Errorf("channels not swapped: %+v", got)
	}
	// Source must stay untouched.
	if src.RGBAAt(1, 1).R != 200 {
		t.Error("source mutated by Normalize")
	}
}

func TestFitRect(t *testing.T) {
	cases := []struct {
		w, h, bw, bh, ww, wh int
	}{
		{100, 50, 50, 50, 50, 25},
		{50, 100, 50, 50, 25, 50},
		{100, 100, 50, 25, 25, 25},
		{10, 10, 100, 100, 100, 100},
	}
	for _, tc := range cases {
		gw, gh := FitRect(tc.w, tc.h, tc.bw, tc.bh)
		if gw != tc.ww || gh != tc.wh {
			t.Errorf("FitRect(%d,%d,%d,%d) = %d,%d want %d,%d",
				tc.w, tc.h, tc.bw, tc.bh, gw, gh, tc.ww, tc.wh)
		}
	}
}

func TestThumbnailNoUpscale(t *testing.T) {
	small := uniform(10, 10, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	out := Thumbnail(small, 100, 100)
	if out.Bounds().Dx() != 10 {
		t.Errorf("small image rescaled to %d", out.Bounds().Dx())
	}
}

func TestEncodeJPEGBounded(t *testing.T) {
	// Noisy-ish content so quality actually affects size.
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for i := range img.Pix {
		img.Pix[i] = byte(i * 31)
	}
	const maxBytes = 6000
	data, err := EncodeJPEGBounded(img, 800, maxBytes)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty payload")
	}
	if len(data) > maxBytes {
		// The ladder bottoms out at quality 10; only then may the
		// bound be exceeded.
		small, err := EncodeJPEG(img, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) != len(small) {
			t.Errorf("payload %d bytes exceeds %d without bottoming out", len(data), maxBytes)
		}
	}
}

func TestEncodeJPEGBoundedDownscales(t *testing.T) {
	wide := image.NewRGBA(image.Rect(0, 0, 1600, 400))
	data, err := EncodeJPEGBounded(wide, 800, 0)
	if err != nil {
		t.Fatal(err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 800 {
		t.Errorf("width after bounding = %d, want 800", cfg.Width)
	}
}
