package dto

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// ErrInvalidDataURL is returned by ParseDataURL.
var ErrInvalidDataURL = errors.New("invalid data URL")

// Sample is one captured frame or uploaded image on its way to a backend.
type Sample struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// DataURL encodes the sample the way browsers hand out canvas screenshots.
func (s Sample) DataURL() string {
	contentType := s.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(s.Data)
}

// Empty reports whether the sample carries no image bytes.
func (s Sample) Empty() bool {
	return len(s.Data) == 0
}

// ParseDataURL decodes "data:<type>;base64,<payload>". A bare base64 payload
// is accepted as JPEG.
func ParseDataURL(s string) (Sample, error) {
	contentType := "image/jpeg"
	payload := strings.TrimSpace(s)

	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if !found {
			return Sample{}, ErrInvalidDataURL
		}
		mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
		if !isBase64 {
			return Sample{}, ErrInvalidDataURL
		}
		if mediaType != "" {
			contentType = mediaType
		}
		payload = data
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return Sample{}, ErrInvalidDataURL
	}
	return Sample{Data: data, ContentType: contentType, CapturedAt: time.Now()}, nil
}
