package processing

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Default encoding parameters for vision models
const (
	DefaultMaxSide = 1536
	DefaultQuality = 90
)

// Processor prepares uploaded images for vision models
type Processor struct {
	maxSide int
	quality int
}

// NewProcessor creates a processor. Non-positive values select the defaults.
func NewProcessor(maxSide, quality int) *Processor {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Processor{maxSide: maxSide, quality: quality}
}

// Decode decodes image bytes, honoring EXIF orientation, with WebP support
func (p *Processor) Decode(data []byte) (image.Image, error) {
	// Try registered decoders first
	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// PrepareForModel decodes data, bounds its long side and re-encodes it as JPEG
func (p *Processor) PrepareForModel(data []byte) ([]byte, error) {
	img, err := p.Decode(data)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("image: empty bounds")
	}
	if w > p.maxSide || h > p.maxSide {
		if w >= h {
			img = imaging.Resize(img, p.maxSide, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, p.maxSide, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
