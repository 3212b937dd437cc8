package minio

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/jpeg"
)

const (
	thumbWidth  = 320
	thumbHeight = 180
)

// PlaceholderThumbnail renders a deterministic gradient card for a video.
// Real frame extraction needs a media toolchain the service does not carry,
// so the pipeline stores a stable placeholder keyed on the video id instead.
func PlaceholderThumbnail(videoID string) ([]byte, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(videoID))
	seed := h.Sum32()

	base := color.RGBA{
		R: uint8(40 + seed%120),
		G: uint8(40 + (seed>>8)%120),
		B: uint8(60 + (seed>>16)%150),
		A: 255,
	}
	img := image.NewRGBA(image.Rect(0, 0, thumbWidth, thumbHeight))
	for y := 0; y < thumbHeight; y++ {
		// Darken toward the bottom edge.
		shade := 1.0 - float64(y)/float64(thumbHeight)*0.6
		row := color.RGBA{
			R: uint8(float64(base.R) * shade),
			G: uint8(float64(base.G) * shade),
			B: uint8(float64(base.B) * shade),
			A: 255,
		}
		for x := 0; x < thumbWidth; x++ {
			img.SetRGBA(x, y, row)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("op=minio.PlaceholderThumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
