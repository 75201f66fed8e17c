package camera

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const stillJPEGQuality = 80

// CaptureStill grabs the source's current frame and encodes it for
// transport: downscaled so the longest side is at most maxDim, JPEG,
// base64. The raw JPEG bytes are returned alongside for audit storage.
func CaptureStill(ctx context.Context, src FrameSource, maxDim int) (string, []byte, error) {
	frame, err := src.Frame(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to capture frame: %w", err)
	}

	frame = scaleDown(frame, maxDim)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: stillJPEGQuality}); err != nil {
		return "", nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), buf.Bytes(), nil
}

func scaleDown(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
