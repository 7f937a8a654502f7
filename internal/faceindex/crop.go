package faceindex

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/your-org/galleryai/internal/failure"
	"github.com/your-org/galleryai/internal/models"
)

// CropPadding is added on each side of a detected box, as a fraction of the
// box size, before a face is cropped for indexing.
const CropPadding = 0.4

// DecodeImage decodes JPEG, PNG, GIF, WebP or BMP bytes, applying EXIF
// orientation. Failures are IMAGE_ERROR.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, failure.Wrap(failure.CodeImageError, errors.New("empty image"))
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, failure.Wrap(failure.CodeImageError, fmt.Errorf("decode image: %w", err))
	}
	return img, nil
}

// PaddedRect converts a normalized box into a pixel rectangle inside bounds,
// grown by padding on each side and clamped to bounds.
func PaddedRect(bounds image.Rectangle, box models.BoundingBox, padding float64) image.Rectangle {
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	bw := box.Width * w
	bh := box.Height * h
	x0 := box.X*w - bw*padding
	y0 := box.Y*h - bh*padding
	x1 := box.X*w + bw*(1+padding)
	y1 := box.Y*h + bh*(1+padding)

	r := image.Rect(
		int(math.Round(math.Max(0, x0))),
		int(math.Round(math.Max(0, y0))),
		int(math.Round(math.Min(w, x1))),
		int(math.Round(math.Min(h, y1))),
	)
	return r.Add(bounds.Min)
}

// CropFace cuts the padded face region out of img. It returns nil when the
// region is empty.
func CropFace(img image.Image, box models.BoundingBox) image.Image {
	r := PaddedRect(img.Bounds(), box, CropPadding)
	if r.Empty() {
		return nil
	}
	return imaging.Crop(img, r)
}

// CropFaceJPEG crops a face and encodes it for IndexFace.
func CropFaceJPEG(img image.Image, box models.BoundingBox) ([]byte, error) {
	crop := CropFace(img, box)
	if crop == nil {
		return nil, failure.Errorf(failure.CodeImageError, "empty face crop for box %+v", box)
	}
	return EncodeJPEG(crop)
}

func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// normalizeBox maps pixel corners to a box normalized to bounds.
func normalizeBox(bounds image.Rectangle, x1, y1, x2, y2 float32) models.BoundingBox {
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	if w == 0 || h == 0 {
		return models.BoundingBox{}
	}
	return models.BoundingBox{
		X:      clamp01((float64(x1) - float64(bounds.Min.X)) / w),
		Y:      clamp01((float64(y1) - float64(bounds.Min.Y)) / h),
		Width:  clamp01(float64(x2-x1) / w),
		Height: clamp01(float64(y2-y1) / h),
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
