// Package ocr runs the multi-pass OCR engine: image preprocessing
// variants feed a tesseract subprocess across several page-segmentation
// modes, and the best-scoring text wins.
package ocr

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Variant selects a preprocessing pipeline.
type Variant string

const (
	// VariantStandard: rotate per EXIF, grayscale, histogram stretch,
	// 3x3 median filter, mild sharpen.
	VariantStandard Variant = "standard"
	// VariantAdvanced: standard plus stronger linear contrast and
	// binarization at 140.
	VariantAdvanced Variant = "advanced"
	// VariantHighContrast: aggressive contrast, threshold at 120,
	// double negate.
	VariantHighContrast Variant = "high-contrast"
)

// Preprocess decodes an image, applies the requested variant and returns a
// PNG ready for OCR.
func Preprocess(data []byte, variant Variant) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img = autoRotate(data, img)
	img = imaging.Grayscale(img)
	img = stretchHistogram(img)
	img = medianFilter(img)
	img = imaging.Sharpen(img, 0.6)

	switch variant {
	case VariantAdvanced:
		img = imaging.AdjustContrast(img, 40)
		img = threshold(img, 140)
	case VariantHighContrast:
		img = imaging.AdjustContrast(img, 80)
		img = imaging.Invert(img)
		img = threshold(img, 255-120)
		img = imaging.Invert(img)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}

// autoRotate applies the EXIF orientation, if any. Decoding strips EXIF so
// the orientation is read from the original bytes.
func autoRotate(original []byte, img image.Image) image.Image {
	meta, err := exif.Decode(bytes.NewReader(original))
	if err != nil {
		return img
	}
	tag, err := meta.Get(exif.Orientation)
	if err != nil {
		return img
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return img
	}

	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}

// stretchHistogram remaps luminance so the darkest pixel becomes 0 and the
// brightest 255.
func stretchHistogram(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	min, max := uint8(255), uint8(0)
	for i := 0; i < len(src.Pix); i += 4 {
		v := src.Pix[i]
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max <= min {
		return src
	}
	scale := 255.0 / float64(max-min)
	for i := 0; i < len(src.Pix); i += 4 {
		v := uint8(float64(src.Pix[i]-min) * scale)
		src.Pix[i], src.Pix[i+1], src.Pix[i+2] = v, v, v
	}
	return src
}

// medianFilter applies a 3x3 median over the luminance channel, removing
// salt-and-pepper noise that confuses segmentation.
func medianFilter(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := imaging.Clone(src)

	var window [9]uint8
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			k := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window[k] = src.Pix[((y+dy)*w+(x+dx))*4]
					k++
				}
			}
			m := median9(window)
			idx := (y*w + x) * 4
			out.Pix[idx], out.Pix[idx+1], out.Pix[idx+2] = m, m, m
		}
	}
	return out
}

// median9 finds the median of 9 values with an insertion sort; the window
// is tiny so this beats allocating a slice per pixel.
func median9(w [9]uint8) uint8 {
	for i := 1; i < 9; i++ {
		v := w[i]
		j := i - 1
		for j >= 0 && w[j] > v {
			w[j+1] = w[j]
			j--
		}
		w[j+1] = v
	}
	return w[4]
}

// threshold binarizes the image at the given luminance cut.
func threshold(img image.Image, cut uint8) *image.NRGBA {
	src := imaging.Clone(img)
	for i := 0; i < len(src.Pix); i += 4 {
		var v uint8
		if src.Pix[i] >= cut {
			v = 255
		}
		src.Pix[i], src.Pix[i+1], src.Pix[i+2] = v, v, v
	}
	return src
}

// Crop returns the sub-image covering the given fractional region, used by
// the ROI fallback to target the totals block.
func Crop(data []byte, left, top, right, bottom float64) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image for crop: %w", err)
	}
	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	rect := image.Rect(
		bounds.Min.X+int(w*left),
		bounds.Min.Y+int(h*top),
		bounds.Min.X+int(w*right),
		bounds.Min.Y+int(h*bottom),
	)
	cropped := imaging.Crop(img, rect)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
