package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/PostMiniApp/internal/service"
)

func TestGuardReleasesOnceInReverseOrder(t *testing.T) {
	var order []int
	g := NewGuard(
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return errors.New("boom") },
	)
	require.NoError(t, g.Add(func() error { order = append(order, 3); return nil }))

	err := g.Release()
	require.EqualError(t, err, "boom")
	require.Equal(t, []int{3, 2, 1}, order)

	require.EqualError(t, g.Release(), "boom")
	require.Equal(t, []int{3, 2, 1}, order)
	require.True(t, g.Released())

	ran := false
	require.NoError(t, g.Add(func() error { ran = true; return nil }))
	require.True(t, ran)
}

type fakeAudio struct {
	mu     sync.Mutex
	level  float64
	closes int
}

func (f *fakeAudio) Level() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *fakeAudio) Recording() ([]byte, string, error) {
	return []byte("audio"), "voice.webm", nil
}

func (f *fakeAudio) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeAudio) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeMic struct {
	stream *fakeAudio
	err    error
	opens  int
}

func (m *fakeMic) Open(context.Context) (AudioStream, error) {
	m.opens++
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

func TestVoiceRecorderStopReleasesOnce(t *testing.T) {
	stream := &fakeAudio{level: 0.5}
	rec := NewVoiceRecorder(&fakeMic{stream: stream}, VoiceOptions{SampleInterval: time.Millisecond, MaxDuration: time.Minute})

	require.NoError(t, rec.Start(context.Background()))
	require.True(t, rec.Recording())
	err := rec.Start(context.Background())
	require.ErrorIs(t, err, service.ErrBusy)

	require.Eventually(t, func() bool { return len(rec.Levels()) > 0 }, time.Second, time.Millisecond)

	got, err := rec.Stop()
	require.NoError(t, err)
	require.Equal(t, []byte("audio"), got.Audio)
	require.Equal(t, "voice.webm", got.Filename)
	require.False(t, got.AutoStopped)
	require.False(t, rec.Recording())

	require.NoError(t, rec.Close())
	require.Equal(t, 1, stream.Closes())

	_, err = rec.Stop()
	require.ErrorIs(t, err, ErrNotRecording)
}

func TestVoiceRecorderAutoStopsAtMaxDuration(t *testing.T) {
	stream := &fakeAudio{level: 0.2}
	rec := NewVoiceRecorder(&fakeMic{stream: stream}, VoiceOptions{SampleInterval: time.Millisecond, MaxDuration: 20 * time.Millisecond})

	require.NoError(t, rec.Start(context.Background()))
	require.Eventually(t, func() bool { return !rec.Recording() }, time.Second, time.Millisecond)
	require.Equal(t, 1, stream.Closes())

	got, err := rec.Stop()
	require.NoError(t, err)
	require.True(t, got.AutoStopped)
	require.Equal(t, 1, stream.Closes())
}

func TestVoiceRecorderWindowIsBounded(t *testing.T) {
	stream := &fakeAudio{level: 3}
	rec := NewVoiceRecorder(&fakeMic{stream: stream}, VoiceOptions{SampleInterval: time.Millisecond, MaxDuration: time.Minute})

	require.NoError(t, rec.Start(context.Background()))
	defer rec.Close()

	require.Eventually(t, func() bool { return len(rec.Levels()) == DefaultWindow }, 2*time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	levels := rec.Levels()
	require.Len(t, levels, DefaultWindow)
	for _, l := range levels {
		require.Equal(t, 1.0, l)
	}
}

func TestVoiceRecorderHardwareUnavailable(t *testing.T) {
	rec := NewVoiceRecorder(&fakeMic{err: errors.New("denied")}, VoiceOptions{})
	err := rec.Start(context.Background())
	require.ErrorIs(t, err, service.ErrHardwareUnavailable)
	require.False(t, rec.Recording())
}

func TestChunkMicrophoneProducesWAV(t *testing.T) {
	mic := NewChunkMicrophone(8000, time.Minute)
	require.ErrorIs(t, mic.Write([]byte{0, 0}), ErrStreamClosed)

	stream, err := mic.Open(context.Background())
	require.NoError(t, err)
	_, err = mic.Open(context.Background())
	require.Error(t, err)

	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(16384))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(16384))
	require.NoError(t, mic.Write(pcm))
	require.InDelta(t, 0.5, stream.Level(), 0.001)

	data, name, err := stream.Recording()
	require.NoError(t, err)
	require.Equal(t, "voice.wav", name)
	require.Len(t, data, 44+len(pcm))
	require.Equal(t, "RIFF", string(data[:4]))
	require.Equal(t, "WAVE", string(data[8:12]))
	require.Equal(t, uint32(8000), binary.LittleEndian.Uint32(data[24:28]))
	require.Equal(t, pcm, data[44:])

	require.NoError(t, stream.Close())
	require.ErrorIs(t, mic.Write(pcm), ErrStreamClosed)

	_, err = mic.Open(context.Background())
	require.NoError(t, err)
}

type fakeVideo struct {
	device   string
	zoom     ZoomRange
	hasZoom  bool
	zoomSet  float64
	closes   int
	clip     []byte
	recorder bool
}

func (v *fakeVideo) Zoom() (ZoomRange, bool) { return v.zoom, v.hasZoom }
func (v *fakeVideo) SetZoom(z float64) error { v.zoomSet = z; return nil }
func (v *fakeVideo) Frame() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img, nil
}
func (v *fakeVideo) StartRecording() error { v.recorder = true; return nil }
func (v *fakeVideo) StopRecording() ([]byte, string, error) {
	v.recorder = false
	return v.clip, "video/webm", nil
}
func (v *fakeVideo) Close() error { v.closes++; return nil }

type fakeCamera struct {
	devices []Device
	opened  []*fakeVideo
	zoom    ZoomRange
	hasZoom bool
}

func (c *fakeCamera) Devices(context.Context) ([]Device, error) { return c.devices, nil }

func (c *fakeCamera) Open(_ context.Context, id string) (VideoStream, error) {
	v := &fakeVideo{device: id, zoom: c.zoom, hasZoom: c.hasZoom, clip: []byte("clip")}
	c.opened = append(c.opened, v)
	return v, nil
}

func (c *fakeCamera) totalCloses() int {
	n := 0
	for _, v := range c.opened {
		n += v.closes
	}
	return n
}

func TestCameraPrefersEnvironmentFacing(t *testing.T) {
	cam := &fakeCamera{devices: []Device{
		{ID: "front", Facing: FacingUser},
		{ID: "back", Facing: FacingEnvironment},
	}}
	s := NewCameraSession(cam)
	require.NoError(t, s.Open(context.Background()))
	d, ok := s.Device()
	require.True(t, ok)
	require.Equal(t, "back", d.ID)

	require.NoError(t, s.SwitchDevice(context.Background()))
	d, _ = s.Device()
	require.Equal(t, "front", d.ID)
	require.Equal(t, 1, cam.opened[0].closes)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 2, cam.totalCloses())
}

func TestCameraNoDevices(t *testing.T) {
	s := NewCameraSession(&fakeCamera{})
	err := s.Open(context.Background())
	require.ErrorIs(t, err, service.ErrHardwareUnavailable)
}

func TestCameraZoomControl(t *testing.T) {
	cam := &fakeCamera{devices: []Device{{ID: "a"}}, zoom: ZoomRange{Min: 1, Max: 1}, hasZoom: true}
	s := NewCameraSession(cam)
	require.NoError(t, s.Open(context.Background()))
	_, ok := s.ZoomControl()
	require.False(t, ok)
	require.NoError(t, s.Close())

	cam = &fakeCamera{devices: []Device{{ID: "a"}}, zoom: ZoomRange{Min: 1, Max: 4, Step: 0.1}, hasZoom: true}
	s = NewCameraSession(cam)
	require.NoError(t, s.Open(context.Background()))
	z, ok := s.ZoomControl()
	require.True(t, ok)
	require.Equal(t, 4.0, z.Max)
	require.NoError(t, s.SetZoom(10))
	require.Equal(t, 4.0, cam.opened[0].zoomSet)
	require.NoError(t, s.Close())
}

func TestCameraPhotoRetakeConfirm(t *testing.T) {
	cam := &fakeCamera{devices: []Device{{ID: "a"}}}
	s := NewCameraSession(cam)
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, s.CapturePhoto())
	require.ErrorIs(t, s.CapturePhoto(), ErrWrongState)
	require.NoError(t, s.Retake())

	require.NoError(t, s.CapturePhoto())
	c, err := s.Confirm()
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", c.ContentType)
	_, err = jpeg.Decode(bytes.NewReader(c.Data))
	require.NoError(t, err)

	require.Equal(t, 1, cam.totalCloses())
	require.NoError(t, s.Close())
	require.Equal(t, 1, cam.totalCloses())
}

func TestCameraRecording(t *testing.T) {
	cam := &fakeCamera{devices: []Device{{ID: "a"}}}
	s := NewCameraSession(cam)
	require.NoError(t, s.Open(context.Background()))

	require.Zero(t, s.Elapsed())
	require.NoError(t, s.StartRecording())
	time.Sleep(5 * time.Millisecond)
	require.Greater(t, s.Elapsed(), time.Duration(0))
	require.NoError(t, s.StopRecording())

	c, err := s.Confirm()
	require.NoError(t, err)
	require.Equal(t, []byte("clip"), c.Data)
	require.Equal(t, "video/webm", c.ContentType)
	require.Positive(t, c.Duration)
	require.Equal(t, 1, cam.totalCloses())
}

func TestChunkMicrophoneCapsRecordingLength(t *testing.T) {
	// 100 samples per second for one second is 200 bytes of PCM16.
	mic := NewChunkMicrophone(100, time.Second)
	stream, err := mic.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, mic.Write(make([]byte, 150)))
	require.ErrorIs(t, mic.Write(make([]byte, 150)), ErrAudioLimit)
	require.ErrorIs(t, mic.Write(make([]byte, 2)), ErrAudioLimit)

	data, _, err := stream.Recording()
	require.NoError(t, err)
	require.Len(t, data, 44+200)
}

func encodeTestJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestUploadCameraPhoto(t *testing.T) {
	cam := NewUploadCamera()
	require.ErrorIs(t, cam.PushFrame(encodeTestJPEG(t)), ErrCameraClosed)

	cam.SetDevices([]UploadedDevice{
		{Device: Device{ID: "front", Facing: FacingUser}},
		{Device: Device{ID: "back", Facing: FacingEnvironment}, Zoom: &ZoomRange{Min: 1, Max: 5, Step: 0.1}},
	})
	s := NewCameraSession(cam)
	require.NoError(t, s.Open(context.Background()))
	d, ok := s.Device()
	require.True(t, ok)
	require.Equal(t, "back", d.ID)
	_, ok = s.ZoomControl()
	require.True(t, ok)

	require.ErrorIs(t, s.CapturePhoto(), ErrNoFrame)
	require.Error(t, cam.PushFrame([]byte("not an image")))
	require.NoError(t, cam.PushFrame(encodeTestJPEG(t)))
	require.NoError(t, s.CapturePhoto())
	require.Equal(t, "review", s.Phase())

	c, err := s.Confirm()
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", c.ContentType)
	require.Equal(t, "closed", s.Phase())
	require.ErrorIs(t, cam.PushFrame(encodeTestJPEG(t)), ErrCameraClosed)
}

func TestUploadCameraClip(t *testing.T) {
	cam := NewUploadCamera()
	cam.SetDevices([]UploadedDevice{{Device: Device{ID: "a"}}})
	s := NewCameraSession(cam)
	require.NoError(t, s.Open(context.Background()))
	_, ok := s.ZoomControl()
	require.False(t, ok)

	require.ErrorIs(t, cam.PushClip([]byte("x"), "video/mp4"), ErrNotRecording)
	require.NoError(t, s.StartRecording())
	require.NoError(t, cam.PushClip([]byte("ab"), "video/mp4"))
	require.NoError(t, cam.PushClip([]byte("cd"), "video/mp4"))
	require.NoError(t, s.StopRecording())

	c, err := s.Confirm()
	require.NoError(t, err)
	require.Equal(t, []byte("abcd"), c.Data)
	require.Equal(t, "video/mp4", c.ContentType)
}

func TestUploadCameraWithoutDevices(t *testing.T) {
	s := NewCameraSession(NewUploadCamera())
	require.ErrorIs(t, s.Open(context.Background()), service.ErrHardwareUnavailable)
	require.Equal(t, "closed", s.Phase())
}
