package capture

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"ecobin/internal/dto"
)

const stillJPEGQuality = 90

// NormalizeStill turns an uploaded image (JPEG, PNG, GIF or WebP) into a
// JPEG sample no larger than maxDim on either side.
func NormalizeStill(data []byte, maxDim int) (dto.Sample, error) {
	if len(data) == 0 {
		return dto.Sample{}, fmt.Errorf("empty image")
	}

	img, err := decodeStill(data)
	if err != nil {
		return dto.Sample{}, err
	}

	if maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(stillJPEGQuality)); err != nil {
		return dto.Sample{}, fmt.Errorf("failed to encode image: %w", err)
	}

	return dto.Sample{Data: buf.Bytes(), ContentType: "image/jpeg", CapturedAt: time.Now()}, nil
}

// Thumbnail scales an encoded image down to a size x size JPEG.
func Thumbnail(data []byte, size int) ([]byte, error) {
	img, err := decodeStill(data)
	if err != nil {
		return nil, err
	}

	thumb := imaging.Thumbnail(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeStill(data []byte) (image.Image, error) {
	switch contentType := http.DetectContentType(data); contentType {
	case "image/webp":
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode webp image: %w", err)
		}
		return img, nil
	case "image/jpeg", "image/png", "image/gif", "image/bmp":
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported image type %q", contentType)
	}
}
