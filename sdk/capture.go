package avatar

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Capture failure kinds surfaced to the UI. Backends wrap their errors with
// one of these so callers can offer the text-input fallback.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Recorder is a microphone capture backend. Start opens the device and
// begins buffering; Stop finalizes and returns the encoded clip.
type Recorder interface {
	Start() error
	Stop() ([]byte, error)
}

// Clip is one finished recording.
type Clip struct {
	Audio  []byte
	Format string
}

// CaptureManager owns at most one active recording session over a Recorder.
type CaptureManager struct {
	recorder Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	active bool
}

func NewCaptureManager(recorder Recorder, logger *slog.Logger) *CaptureManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureManager{recorder: recorder, logger: logger}
}

// Recording reports whether a capture session is active.
func (m *CaptureManager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Start begins a recording session. Starting while one is active is a
// logged no-op, not a failure.
func (m *CaptureManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		m.logger.Warn("recording already active, ignoring start")
		return nil
	}
	if m.recorder == nil {
		return fmt.Errorf("no capture backend: %w", ErrDeviceUnavailable)
	}
	if err := m.recorder.Start(); err != nil {
		return err
	}
	m.active = true
	return nil
}

// Stop finalizes the active recording into a clip with its detected
// container format. With no active recording it returns nil, nil.
func (m *CaptureManager) Stop() (*Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil, nil
	}
	m.active = false
	audio, err := m.recorder.Stop()
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, nil
	}
	return &Clip{Audio: audio, Format: DetectFormat(audio)}, nil
}

// DetectFormat sniffs the container of an encoded clip. The format is
// derived from the actual bytes, never assumed from the backend.
func DetectFormat(clip []byte) string {
	switch {
	case len(clip) >= 12 && bytes.HasPrefix(clip, []byte("RIFF")) && bytes.Equal(clip[8:12], []byte("WAVE")):
		return "wav"
	case bytes.HasPrefix(clip, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		// EBML header, shared by webm and matroska.
		return "webm"
	case bytes.HasPrefix(clip, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(clip, []byte("ID3")):
		return "mp3"
	case len(clip) >= 2 && clip[0] == 0xFF && clip[1]&0xE0 == 0xE0:
		// Bare MPEG audio frame sync.
		return "mp3"
	default:
		return "wav"
	}
}
