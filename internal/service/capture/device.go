package capture

import (
	"fmt"
	"sync"

	"ecobin/internal/dto"
)

// Device is an opened capture device.
type Device interface {
	Grab() (dto.Sample, error)
	Close() error
}

// DeviceOpener opens the device named id.
type DeviceOpener func(id string) (Device, error)

type sharedDevice struct {
	id     string
	device Device
	refs   int

	mu     sync.Mutex
	closed bool
}

// grab reads from the device unless it was closed underneath the caller.
func (d *sharedDevice) grab() (dto.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return dto.Sample{}, ErrSourceInactive
	}
	return d.device.Grab()
}

func (d *sharedDevice) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.device.Close()
}

// Devices opens each device once and closes it when the last source using
// it is deactivated.
type Devices struct {
	open DeviceOpener

	mu      sync.Mutex
	devices map[string]*sharedDevice
}

func NewDevices(open DeviceOpener) *Devices {
	return &Devices{open: open, devices: make(map[string]*sharedDevice)}
}

func (r *Devices) acquire(id string) (*sharedDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		d.refs++
		return d, nil
	}

	dev, err := r.open(id)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %s: %w", id, err)
	}

	d := &sharedDevice{id: id, device: dev, refs: 1}
	r.devices[id] = d
	return d, nil
}

func (r *Devices) release(d *sharedDevice) error {
	r.mu.Lock()
	d.refs--
	if d.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	if r.devices[d.id] == d {
		delete(r.devices, d.id)
	}
	r.mu.Unlock()

	return d.close()
}

// Open reports how many devices are currently open.
func (r *Devices) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Close releases every device regardless of reference counts.
func (r *Devices) Close() {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[string]*sharedDevice)
	r.mu.Unlock()

	for _, d := range devices {
		d.close()
	}
}

// DeviceSource is a Source backed by a shared device.
type DeviceSource struct {
	kind    string
	id      string
	devices *Devices

	mu     sync.Mutex
	device *sharedDevice
}

// NewDeviceSource creates an inactive source named "<kind>:<id>".
func NewDeviceSource(devices *Devices, kind, id string) *DeviceSource {
	return &DeviceSource{kind: kind, id: id, devices: devices}
}

func (s *DeviceSource) Name() string { return s.kind + ":" + s.id }

func (s *DeviceSource) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		return nil
	}
	d, err := s.devices.acquire(s.id)
	if err != nil {
		return err
	}
	s.device = d
	return nil
}

func (s *DeviceSource) Deactivate() error {
	s.mu.Lock()
	d := s.device
	s.device = nil
	s.mu.Unlock()

	if d == nil {
		return nil
	}
	return s.devices.release(d)
}

func (s *DeviceSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device != nil
}

// Sample grabs the current frame. A device closed by a concurrent
// Deactivate reports ErrSourceInactive.
func (s *DeviceSource) Sample() (dto.Sample, error) {
	s.mu.Lock()
	d := s.device
	s.mu.Unlock()

	if d == nil {
		return dto.Sample{}, ErrSourceInactive
	}
	return d.grab()
}
