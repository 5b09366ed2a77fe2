package image

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/apex/log"
	"golang.org/x/image/draw"
)

// DefaultMaxDimension is the longest side, in pixels, sent to the model.
const DefaultMaxDimension = 1024

// DownscalePNG shrinks a PNG so its longest side is at most maxDimension,
// preserving aspect ratio. Images already within the limit are returned
// as-is.
func DownscalePNG(imageData []byte, maxDimension int) ([]byte, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= maxDimension && cfg.Height <= maxDimension {
		return imageData, nil
	}

	img, err := png.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	// Calculate scale to fit within maxDimension while preserving aspect ratio
	scaleX := float64(maxDimension) / float64(cfg.Width)
	scaleY := float64(maxDimension) / float64(cfg.Height)
	scale := scaleX
	if scaleY < scaleX {
		scale = scaleY
	}

	newWidth := max(1, min(maxDimension, int(float64(cfg.Width)*scale)))
	newHeight := max(1, min(maxDimension, int(float64(cfg.Height)*scale)))

	newImg := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.ApproxBiLinear.Scale(newImg, newImg.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, newImg); err != nil {
		return nil, fmt.Errorf("failed to encode downscaled image: %w", err)
	}

	log.Debugf("Image downscaled: %d bytes -> %d bytes (scale: %.2f, original: %dx%d, new: %dx%d)",
		len(imageData), buf.Len(), scale, cfg.Width, cfg.Height, newWidth, newHeight)

	return buf.Bytes(), nil
}
