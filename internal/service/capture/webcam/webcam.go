// Package webcam samples local capture devices through OpenCV.
package webcam

import (
	"fmt"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"ecobin/internal/dto"
	"ecobin/internal/service/capture"
)

// camera is one opened OpenCV capture device.
type camera struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
}

// Open opens device id ("0", "1", or a URL/path OpenCV understands).
func Open(id string) (capture.Device, error) {
	var target interface{} = id
	if n, err := strconv.Atoi(id); err == nil {
		target = n
	}

	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, err
	}
	return &camera{capture: vc, frame: gocv.NewMat()}, nil
}

// NewRegistry returns the shared device set for webcams.
func NewRegistry() *capture.Devices {
	return capture.NewDevices(Open)
}

// NewSource creates an inactive webcam source on registry.
func NewSource(registry *capture.Devices, id string) *capture.DeviceSource {
	return capture.NewDeviceSource(registry, "webcam", id)
}

// Grab reads and JPEG-encodes the current frame. A camera that is still
// warming up reports capture.ErrNoFrame.
func (c *camera) Grab() (dto.Sample, error) {
	if ok := c.capture.Read(&c.frame); !ok || c.frame.Empty() {
		return dto.Sample{}, capture.ErrNoFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, c.frame)
	if err != nil {
		return dto.Sample{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	return dto.Sample{Data: data, ContentType: "image/jpeg", CapturedAt: time.Now()}, nil
}

func (c *camera) Close() error {
	c.frame.Close()
	return c.capture.Close()
}
