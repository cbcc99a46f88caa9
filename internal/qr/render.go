package qr

import (
	"fmt"

	skipqr "github.com/skip2/go-qrcode"
)

// DefaultSize matches a version 1 code drawn with 10px modules and a 4 module
// quiet zone.
const DefaultSize = 290

// Renderer turns payload text into PNG bytes.
type Renderer struct {
	size  int
	level skipqr.RecoveryLevel
}

// NewRenderer returns a renderer producing size x size images with low error
// correction, which keeps modules large for cheap webcams.
func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{size: size, level: skipqr.Low}
}

// Render encodes payload as a PNG image.
func (r *Renderer) Render(payload string) ([]byte, error) {
	png, err := skipqr.Encode(payload, r.level, r.size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
