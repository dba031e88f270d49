package capture

import (
	"bytes"
	"sync"
	"time"

	"ecobin/internal/dto"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// Pushed is a source fed by a network camera that pushes JPEG frames to us.
// It keeps only the latest frame; frames older than the freshness window are
// treated as missing.
type Pushed struct {
	name      string
	freshness time.Duration
	now       func() time.Time

	mu       sync.Mutex
	active   bool
	frame    []byte
	received time.Time
}

// NewPushed creates a pushed-frame source for the named camera.
func NewPushed(name string, freshness time.Duration) *Pushed {
	return &Pushed{name: name, freshness: freshness, now: time.Now}
}

func (p *Pushed) Name() string { return "camera:" + p.name }

// Camera is the camera name frames are routed by.
func (p *Pushed) Camera() string { return p.name }

func (p *Pushed) Activate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	return nil
}

// Deactivate switches the source off and drops the held frame.
func (p *Pushed) Deactivate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	p.frame = nil
	return nil
}

func (p *Pushed) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Push stores a frame. Frames that are not complete JPEGs are ignored and
// Push reports false.
func (p *Pushed) Push(frame []byte) bool {
	if !IsJPEG(frame) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return false
	}
	p.frame = append(p.frame[:0], frame...)
	p.received = p.now()
	return true
}

func (p *Pushed) Sample() (dto.Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return dto.Sample{}, ErrSourceInactive
	}
	if len(p.frame) == 0 {
		return dto.Sample{}, ErrNoFrame
	}
	if p.freshness > 0 && p.now().Sub(p.received) > p.freshness {
		return dto.Sample{}, ErrNoFrame
	}

	data := make([]byte, len(p.frame))
	copy(data, p.frame)
	return dto.Sample{Data: data, ContentType: "image/jpeg", CapturedAt: p.received}, nil
}

// IsJPEG checks for the SOI and EOI markers.
func IsJPEG(data []byte) bool {
	return bytes.HasPrefix(data, jpegHeader) && bytes.HasSuffix(data, jpegFooter)
}

// FrameAssembler rebuilds JPEG frames that arrive split over several
// datagrams. A packet starting with SOI resets the buffer; a packet ending
// with EOI completes the frame.
type FrameAssembler struct {
	buffers map[string]*bytes.Buffer
}

func NewFrameAssembler() *FrameAssembler {
	return &FrameAssembler{buffers: make(map[string]*bytes.Buffer)}
}

// Add appends a packet for camera and returns the completed frame, if any.
func (a *FrameAssembler) Add(camera string, packet []byte) ([]byte, bool) {
	buf, ok := a.buffers[camera]
	if !ok {
		buf = new(bytes.Buffer)
		a.buffers[camera] = buf
	}

	if bytes.HasPrefix(packet, jpegHeader) {
		buf.Reset()
	} else if buf.Len() == 0 {
		// mid-frame packet with no start seen
		return nil, false
	}
	buf.Write(packet)

	if !bytes.HasSuffix(packet, jpegFooter) {
		return nil, false
	}

	frame := make([]byte, buf.Len())
	copy(frame, buf.Bytes())
	buf.Reset()
	return frame, true
}
