package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/digkill/PostMiniApp/internal/service"
)

const (
	// DefaultSampleInterval matches a 60 Hz display refresh.
	DefaultSampleInterval = 16 * time.Millisecond
	DefaultWindow         = 50
)

var ErrNotRecording = errors.New("capture: not recording")

// AudioStream is an open microphone.
type AudioStream interface {
	// Level is the instantaneous amplitude in [0, 1].
	Level() float64
	// Recording returns the encoded audio captured so far.
	Recording() (data []byte, filename string, err error)
	Close() error
}

type Microphone interface {
	Open(ctx context.Context) (AudioStream, error)
}

type Recording struct {
	Audio       []byte
	Filename    string
	Duration    time.Duration
	AutoStopped bool
}

type VoiceOptions struct {
	MaxDuration    time.Duration
	SampleInterval time.Duration
	Window         int
}

// VoiceRecorder runs one capture cycle at a time: Start, level sampling into
// a rolling window, then Stop or an automatic stop at MaxDuration.
type VoiceRecorder struct {
	mic  Microphone
	opts VoiceOptions

	mu        sync.Mutex
	active    bool
	stream    AudioStream
	guard     *Guard
	levels    []float64
	startedAt time.Time
	stop      chan struct{}
	done      chan struct{}
	result    *Recording
	resultErr error
}

func NewVoiceRecorder(mic Microphone, opts VoiceOptions) *VoiceRecorder {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 2 * time.Minute
	}
	return &VoiceRecorder{mic: mic, opts: opts}
}

// Start opens the microphone. A second Start while recording is BUSY.
func (r *VoiceRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return service.NewError(service.CodeBusy, "voice capture already running", nil)
	}

	stream, err := r.mic.Open(ctx)
	if err != nil {
		return service.NewError(service.CodeHardwareUnavailable, "microphone", err)
	}

	r.active = true
	r.stream = stream
	r.guard = NewGuard(stream.Close)
	r.levels = make([]float64, 0, r.opts.Window)
	r.startedAt = time.Now()
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.result = nil
	r.resultErr = nil

	go r.sample(r.stop, r.done)
	return nil
}

// sample ends on Stop, Close or the duration cap, and finalises the cycle
// itself in the latter case.
func (r *VoiceRecorder) sample(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.opts.SampleInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(r.opts.MaxDuration)
	defer deadline.Stop()

	for {
		select {
		case <-stop:
			return
		case <-deadline.C:
			r.mu.Lock()
			r.finishLocked(true)
			r.mu.Unlock()
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.active {
				r.pushLevel(r.stream.Level())
			}
			r.mu.Unlock()
		}
	}
}

func (r *VoiceRecorder) pushLevel(v float64) {
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	if len(r.levels) == r.opts.Window {
		copy(r.levels, r.levels[1:])
		r.levels = r.levels[:len(r.levels)-1]
	}
	r.levels = append(r.levels, v)
}

// finishLocked collects the recording and releases the stream. Callers hold
// r.mu.
func (r *VoiceRecorder) finishLocked(auto bool) {
	if !r.active {
		return
	}
	r.active = false
	data, name, err := r.stream.Recording()
	if releaseErr := r.guard.Release(); err == nil && releaseErr != nil {
		err = releaseErr
	}
	if err != nil {
		r.resultErr = err
		return
	}
	r.result = &Recording{Audio: data, Filename: name, Duration: time.Since(r.startedAt), AutoStopped: auto}
}

// Stop ends the cycle and returns the recording. After an automatic stop it
// returns the recording that was finalised then.
func (r *VoiceRecorder) Stop() (Recording, error) {
	r.mu.Lock()
	stop, done := r.stop, r.done
	if stop == nil {
		r.mu.Unlock()
		return Recording{}, ErrNotRecording
	}
	if r.active {
		r.finishLocked(false)
		close(stop)
	}
	r.stop = nil
	result, err := r.result, r.resultErr
	r.mu.Unlock()

	<-done
	if err != nil {
		return Recording{}, err
	}
	if result == nil {
		return Recording{}, ErrNotRecording
	}
	return *result, nil
}

// Close abandons any running cycle and releases the microphone.
func (r *VoiceRecorder) Close() error {
	r.mu.Lock()
	stop, done, guard := r.stop, r.done, r.guard
	if stop != nil && r.active {
		r.active = false
		close(stop)
	}
	r.stop = nil
	r.mu.Unlock()

	if done != nil {
		<-done
	}
	if guard != nil {
		return guard.Release()
	}
	return nil
}

func (r *VoiceRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Levels is a copy of the rolling window, oldest first.
func (r *VoiceRecorder) Levels() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.levels...)
}

func (r *VoiceRecorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return 0
	}
	return time.Since(r.startedAt)
}
