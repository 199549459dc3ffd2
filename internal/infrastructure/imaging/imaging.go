// Package imaging turns uploaded scan bytes into model input tensors.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Normalization holds per-channel mean and standard deviation in RGB order.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageNet is the normalization most pretrained vision backbones expect.
var ImageNet = Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

// MaxPixels bounds the decoded area of an accepted image.
const MaxPixels = 50_000_000

var rasterMimeTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

// Sniff reads only the image header and returns the raster MIME type of
// data. Anything that is not one of the registered raster formats, or whose
// dimensions exceed MaxPixels, is rejected.
func Sniff(data []byte) (string, error) {
	cfg, format, err := probeConfig(data)
	if err != nil {
		return "", err
	}
	mimeType, ok := rasterMimeTypes[format]
	if !ok {
		return "", fmt.Errorf("unsupported image format %q", format)
	}
	if err := checkDimensions(cfg); err != nil {
		return "", err
	}
	return mimeType, nil
}

func probeConfig(data []byte) (image.Config, string, error) {
	if len(data) == 0 {
		return image.Config{}, "", errors.New("empty image payload")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode image header: %w", err)
	}
	return cfg, format, nil
}

func checkDimensions(cfg image.Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}
	return nil
}

// Decode parses any registered raster format and reports its name. The
// header is checked against MaxPixels before any pixel data is allocated.
func Decode(data []byte) (image.Image, string, error) {
	cfg, _, err := probeConfig(data)
	if err != nil {
		return nil, "", err
	}
	if err := checkDimensions(cfg); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Resize scales src to a size x size RGBA image with Catmull-Rom sampling.
// Aspect ratio is not preserved.
func Resize(src image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// ToCHW flattens img into a planar float32 slice laid out as [3][H][W].
func ToCHW(img *image.RGBA, norm Normalization) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			idx := y*w + x
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				out[c*plane+idx] = (v - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return out
}

// Preprocess decodes, resizes and normalizes data in one step.
func Preprocess(data []byte, size int, norm Normalization) ([]float32, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid input size %d", size)
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return ToCHW(Resize(img, size), norm), nil
}
