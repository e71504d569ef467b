package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"github.com/digkill/PostMiniApp/internal/service"
)

type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

type Device struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing Facing `json:"facing"`
}

type ZoomRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Trivial reports a range too narrow to be worth a control.
func (z ZoomRange) Trivial() bool {
	return z.Max-z.Min < 0.01
}

// VideoStream is an open camera track.
type VideoStream interface {
	// Zoom returns the supported range, or false when zoom is not exposed.
	Zoom() (ZoomRange, bool)
	SetZoom(v float64) error
	Frame() (image.Image, error)
	StartRecording() error
	StopRecording() (data []byte, contentType string, err error)
	Close() error
}

type Camera interface {
	Devices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, deviceID string) (VideoStream, error)
}

// Capture is a confirmed photo or clip.
type Capture struct {
	Data        []byte
	ContentType string
	Duration    time.Duration
}

type cameraState int

const (
	stateClosed cameraState = iota
	stateLive
	stateRecording
	stateReview
)

func (c cameraState) String() string {
	switch c {
	case stateLive:
		return "live"
	case stateRecording:
		return "recording"
	case stateReview:
		return "review"
	default:
		return "closed"
	}
}

var (
	ErrCameraClosed = errors.New("capture: camera is closed")
	ErrWrongState   = errors.New("capture: operation not allowed in current state")
)

// JPEGQuality is used for photos.
const JPEGQuality = 90

// CameraSession drives one camera from open to confirm. Hardware is released
// exactly once on Confirm, Close or a failed open.
type CameraSession struct {
	camera Camera

	mu          sync.Mutex
	state       cameraState
	devices     []Device
	index       int
	stream      VideoStream
	guard       *Guard
	recordStart time.Time
	pending     *Capture
}

func NewCameraSession(camera Camera) *CameraSession {
	return &CameraSession{camera: camera}
}

// Open enumerates devices and opens the environment-facing one if present.
func (s *CameraSession) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateClosed {
		return ErrWrongState
	}

	devices, err := s.camera.Devices(ctx)
	if err != nil {
		return service.NewError(service.CodeHardwareUnavailable, "enumerate cameras", err)
	}
	if len(devices) == 0 {
		return service.NewError(service.CodeHardwareUnavailable, "no camera", nil)
	}

	index := 0
	for i, d := range devices {
		if d.Facing == FacingEnvironment {
			index = i
			break
		}
	}

	s.devices = devices
	s.guard = NewGuard()
	if err := s.openLocked(ctx, index); err != nil {
		_ = s.guard.Release()
		return err
	}
	s.state = stateLive
	return nil
}

func (s *CameraSession) openLocked(ctx context.Context, index int) error {
	stream, err := s.camera.Open(ctx, s.devices[index].ID)
	if err != nil {
		return service.NewError(service.CodeHardwareUnavailable, "open camera "+s.devices[index].Label, err)
	}
	s.stream = stream
	s.index = index
	return nil
}

// Phase is one of closed, live, recording or review.
func (s *CameraSession) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.String()
}

func (s *CameraSession) Device() (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return Device{}, false
	}
	return s.devices[s.index], true
}

// ZoomControl returns the zoom range only when the device reports a
// non-trivial one.
func (s *CameraSession) ZoomControl() (ZoomRange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return ZoomRange{}, false
	}
	z, ok := s.stream.Zoom()
	if !ok || z.Trivial() {
		return ZoomRange{}, false
	}
	return z, true
}

// SetZoom clamps v into the supported range.
func (s *CameraSession) SetZoom(v float64) error {
	z, ok := s.ZoomControl()
	if !ok {
		return ErrWrongState
	}
	v = math.Max(z.Min, math.Min(z.Max, v))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.SetZoom(v)
}

// SwitchDevice moves to the next enumerated device, wrapping around.
func (s *CameraSession) SwitchDevice(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateLive {
		return ErrWrongState
	}
	if len(s.devices) < 2 {
		return nil
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("close camera: %w", err)
	}
	s.stream = nil
	if err := s.openLocked(ctx, (s.index+1)%len(s.devices)); err != nil {
		s.closeLocked()
		return err
	}
	return nil
}

// CapturePhoto grabs the current frame as JPEG and moves to review.
func (s *CameraSession) CapturePhoto() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateLive {
		return ErrWrongState
	}
	frame, err := s.stream.Frame()
	if err != nil {
		return fmt.Errorf("grab frame: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	s.pending = &Capture{Data: buf.Bytes(), ContentType: "image/jpeg"}
	s.state = stateReview
	return nil
}

func (s *CameraSession) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateLive {
		return ErrWrongState
	}
	if err := s.stream.StartRecording(); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	s.recordStart = time.Now()
	s.state = stateRecording
	return nil
}

// Elapsed is the running recording time, zero when not recording.
func (s *CameraSession) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRecording {
		return 0
	}
	return time.Since(s.recordStart)
}

func (s *CameraSession) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRecording {
		return ErrWrongState
	}
	data, contentType, err := s.stream.StopRecording()
	if err != nil {
		s.state = stateLive
		return fmt.Errorf("stop recording: %w", err)
	}
	s.pending = &Capture{Data: data, ContentType: contentType, Duration: time.Since(s.recordStart)}
	s.state = stateReview
	return nil
}

// Retake drops the pending capture and returns to the live view.
func (s *CameraSession) Retake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReview {
		return ErrWrongState
	}
	s.pending = nil
	s.state = stateLive
	return nil
}

// Confirm hands over the pending capture and releases the hardware.
func (s *CameraSession) Confirm() (Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReview || s.pending == nil {
		return Capture{}, ErrWrongState
	}
	c := *s.pending
	s.closeLocked()
	return c, nil
}

// Close releases the hardware. It is safe to call more than once.
func (s *CameraSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *CameraSession) closeLocked() error {
	if s.state == stateClosed && s.guard == nil {
		return nil
	}
	stream := s.stream
	if stream != nil {
		_ = s.guard.Add(stream.Close)
	}
	err := s.guard.Release()
	s.stream = nil
	s.pending = nil
	s.state = stateClosed
	s.guard = nil
	return err
}
