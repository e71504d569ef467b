package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/digkill/PostMiniApp/internal/capture"
	"github.com/digkill/PostMiniApp/internal/models"
	"github.com/digkill/PostMiniApp/internal/service"
)

// CameraView is what the Mini App renders around the live preview.
type CameraView struct {
	Phase     string             `json:"phase"`
	Device    *capture.Device    `json:"device,omitempty"`
	Zoom      *capture.ZoomRange `json:"zoom,omitempty"`
	ElapsedMS int64              `json:"elapsed_ms,omitempty"`
}

func (o *Orchestrator) Camera() CameraView {
	v := CameraView{Phase: o.cam.Phase(), ElapsedMS: o.cam.Elapsed().Milliseconds()}
	if d, ok := o.cam.Device(); ok {
		v.Device = &d
	}
	if z, ok := o.cam.ZoomControl(); ok {
		v.Zoom = &z
	}
	return v
}

// OpenCamera opens the camera over the devices the client enumerated.
func (o *Orchestrator) OpenCamera(ctx context.Context, devices []capture.UploadedDevice) (CameraView, error) {
	o.camera.SetDevices(devices)
	if err := o.cam.Open(ctx); err != nil {
		if errors.Is(err, service.ErrHardwareUnavailable) {
			return CameraView{}, o.fail(KindAnalyzeFile, err)
		}
		return CameraView{}, err
	}
	return o.Camera(), nil
}

func (o *Orchestrator) CameraFrame(data []byte) error {
	if err := o.camera.PushFrame(data); err != nil {
		if errors.Is(err, capture.ErrCameraClosed) {
			return err
		}
		return service.NewError(service.CodeInvalidInput, "unreadable frame", err)
	}
	return nil
}

func (o *Orchestrator) CameraClip(data []byte, contentType string) error {
	return o.camera.PushClip(data, contentType)
}

func (o *Orchestrator) CameraZoom(v float64) error {
	return o.cam.SetZoom(v)
}

func (o *Orchestrator) SwitchCamera(ctx context.Context) error {
	return o.cam.SwitchDevice(ctx)
}

func (o *Orchestrator) CameraPhoto() error {
	return o.cam.CapturePhoto()
}

func (o *Orchestrator) CameraRecord() error {
	return o.cam.StartRecording()
}

func (o *Orchestrator) CameraStop() error {
	return o.cam.StopRecording()
}

func (o *Orchestrator) CameraRetake() error {
	return o.cam.Retake()
}

// ConfirmCamera hands the reviewed photo or clip to file analysis. The
// camera is released whether or not the analysis succeeds.
func (o *Orchestrator) ConfirmCamera(ctx context.Context) (models.AnalysisResult, error) {
	c, err := o.cam.Confirm()
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return o.AnalyzeCapture(ctx, captureName(c.ContentType), c)
}

func (o *Orchestrator) CloseCamera() error {
	return o.cam.Close()
}

func captureName(contentType string) string {
	switch {
	case contentType == "image/jpeg":
		return "photo.jpg"
	case strings.HasPrefix(contentType, "video/mp4"):
		return "clip.mp4"
	case strings.HasPrefix(contentType, "video/quicktime"):
		return "clip.mov"
	default:
		return "clip.webm"
	}
}
