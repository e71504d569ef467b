package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"
)

// MaxClipBytes bounds one recorded clip.
const MaxClipBytes = 50 << 20

var (
	ErrNoFrame      = errors.New("capture: no frame uploaded")
	ErrClipTooLarge = errors.New("capture: clip exceeds size limit")
)

// UploadedDevice is a camera the Mini App reported, with its zoom range if
// the browser exposed one.
type UploadedDevice struct {
	Device
	Zoom *ZoomRange `json:"zoom,omitempty"`
}

// UploadCamera is a Camera whose frames and clips are uploaded by the Mini
// App. The device list is whatever the client enumerated on its side.
type UploadCamera struct {
	mu      sync.Mutex
	devices []UploadedDevice
	current *uploadStream
}

func NewUploadCamera() *UploadCamera {
	return &UploadCamera{}
}

// SetDevices replaces the reported device list. It takes effect on the next
// Open.
func (c *UploadCamera) SetDevices(devices []UploadedDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = append([]UploadedDevice(nil), devices...)
}

func (c *UploadCamera) Devices(context.Context) ([]Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d.Device)
	}
	return out, nil
}

func (c *UploadCamera) Open(_ context.Context, deviceID string) (VideoStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.devices {
		if d.ID != deviceID {
			continue
		}
		s := &uploadStream{camera: c, zoomRange: d.Zoom}
		if d.Zoom != nil {
			s.zoom = d.Zoom.Min
		}
		c.current = s
		return s, nil
	}
	return nil, fmt.Errorf("capture: unknown camera %q", deviceID)
}

// PushFrame decodes an uploaded still and makes it the current frame.
func (c *UploadCamera) PushFrame(data []byte) error {
	s := c.stream()
	if s == nil {
		return ErrCameraClosed
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = img
	return nil
}

// PushClip appends an encoded chunk of the clip being recorded.
func (c *UploadCamera) PushClip(data []byte, contentType string) error {
	s := c.stream()
	if s == nil {
		return ErrCameraClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return ErrNotRecording
	}
	if s.clip.Len()+len(data) > MaxClipBytes {
		return ErrClipTooLarge
	}
	if s.clipType == "" {
		s.clipType = contentType
	}
	s.clip.Write(data)
	return nil
}

func (c *UploadCamera) stream() *uploadStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *UploadCamera) release(s *uploadStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s {
		c.current = nil
	}
}

type uploadStream struct {
	camera    *UploadCamera
	zoomRange *ZoomRange

	mu        sync.Mutex
	zoom      float64
	frame     image.Image
	recording bool
	clip      bytes.Buffer
	clipType  string
}

func (s *uploadStream) Zoom() (ZoomRange, bool) {
	if s.zoomRange == nil {
		return ZoomRange{}, false
	}
	return *s.zoomRange, true
}

func (s *uploadStream) SetZoom(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom = v
	return nil
}

func (s *uploadStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	return s.frame, nil
}

func (s *uploadStream) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = true
	s.clip.Reset()
	s.clipType = ""
	return nil
}

func (s *uploadStream) StopRecording() ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return nil, "", ErrNotRecording
	}
	s.recording = false
	if s.clip.Len() == 0 {
		return nil, "", errors.New("capture: no video recorded")
	}
	contentType := s.clipType
	if contentType == "" {
		contentType = "video/webm"
	}
	data := append([]byte(nil), s.clip.Bytes()...)
	s.clip.Reset()
	return data, contentType, nil
}

func (s *uploadStream) Close() error {
	s.camera.release(s)
	return nil
}
