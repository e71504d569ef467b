package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"
)

var (
	// ErrStreamClosed is returned by Write when no capture is open.
	ErrStreamClosed = errors.New("capture: microphone stream is not open")
	// ErrAudioLimit is returned once a stream holds maxDuration of audio.
	ErrAudioLimit = errors.New("capture: recording length limit reached")
)

// ChunkMicrophone is a microphone fed by uploaded mono PCM16 little-endian
// chunks. One stream may be open at a time and holds at most maxDuration of
// audio.
type ChunkMicrophone struct {
	sampleRate int
	maxBytes   int

	mu      sync.Mutex
	current *chunkStream
}

func NewChunkMicrophone(sampleRate int, maxDuration time.Duration) *ChunkMicrophone {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if maxDuration <= 0 {
		maxDuration = 2 * time.Minute
	}
	// Two bytes per mono PCM16 sample.
	maxBytes := int(int64(sampleRate) * 2 * int64(maxDuration) / int64(time.Second))
	return &ChunkMicrophone{sampleRate: sampleRate, maxBytes: maxBytes &^ 1}
}

func (m *ChunkMicrophone) Open(context.Context) (AudioStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return nil, errors.New("capture: microphone already in use")
	}
	s := &chunkStream{mic: m, sampleRate: m.sampleRate, maxBytes: m.maxBytes}
	m.current = s
	return s, nil
}

// Write appends one chunk to the open stream.
func (m *ChunkMicrophone) Write(pcm []byte) error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return ErrStreamClosed
	}
	return s.write(pcm)
}

func (m *ChunkMicrophone) release(s *chunkStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == s {
		m.current = nil
	}
}

type chunkStream struct {
	mic        *ChunkMicrophone
	sampleRate int
	maxBytes   int

	mu     sync.Mutex
	pcm    bytes.Buffer
	level  float64
	closed bool
}

func (s *chunkStream) write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	var err error
	if room := s.maxBytes - s.pcm.Len(); len(pcm) > room {
		pcm = pcm[:room]
		err = ErrAudioLimit
	}
	s.pcm.Write(pcm)
	if len(pcm) > 0 {
		s.level = rms(pcm)
	}
	return err
}

// rms of a PCM16 chunk, normalised to [0, 1].
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

func (s *chunkStream) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *chunkStream) Recording() ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pcm.Len() == 0 {
		return nil, "", errors.New("capture: no audio recorded")
	}
	return encodeWAV(s.pcm.Bytes(), s.sampleRate), "voice.wav", nil
}

func (s *chunkStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.mic.release(s)
	return nil
}

// encodeWAV wraps mono PCM16 samples in a RIFF header.
func encodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var b bytes.Buffer
	b.Grow(44 + len(pcm))
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&b, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&b, binary.LittleEndian, uint16(bitsPerSample))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}
