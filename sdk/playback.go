package avatar

import (
	"fmt"
	"log/slog"
	"sync"
)

// Player is an audio output backend. Start begins playback of one clip and
// returns a handle that reports completion.
type Player interface {
	Start(audio []byte, format string) (PlayerHandle, error)
}

// PlayerHandle controls one playing clip.
type PlayerHandle interface {
	// Wait blocks until playback finishes or is stopped.
	Wait() error
	// Stop aborts playback. Wait returns afterwards.
	Stop()
}

// PlaybackManager owns the single playback slot. Starting a new clip stops
// any current one first, and the start/end signals fire exactly once per
// Play call even when the backend fails, so avatar animation cannot get
// stuck in the speaking state.
type PlaybackManager struct {
	player  Player
	logger  *slog.Logger
	onStart func()
	onEnd   func()

	mu      sync.Mutex
	current *playbackRun
}

type playbackRun struct {
	handle  PlayerHandle
	endOnce sync.Once
}

func NewPlaybackManager(player Player, logger *slog.Logger, onStart, onEnd func()) *PlaybackManager {
	if logger == nil {
		logger = slog.Default()
	}
	if onStart == nil {
		onStart = func() {}
	}
	if onEnd == nil {
		onEnd = func() {}
	}
	return &PlaybackManager{player: player, logger: logger, onStart: onStart, onEnd: onEnd}
}

// Playing reports whether a clip currently occupies the playback slot.
func (m *PlaybackManager) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Play starts a clip, preempting any current playback.
func (m *PlaybackManager) Play(audio []byte, format string) error {
	m.mu.Lock()
	if m.current != nil {
		m.stopCurrentLocked()
	}
	if m.player == nil {
		m.mu.Unlock()
		return fmt.Errorf("no playback backend")
	}

	run := &playbackRun{}
	m.current = run
	m.mu.Unlock()

	m.onStart()

	handle, err := m.player.Start(audio, format)
	if err != nil {
		m.finish(run)
		return fmt.Errorf("start playback: %w", err)
	}

	m.mu.Lock()
	run.handle = handle
	m.mu.Unlock()

	go func() {
		if waitErr := handle.Wait(); waitErr != nil {
			m.logger.Warn("playback ended with error", "err", waitErr)
		}
		m.finish(run)
	}()
	return nil
}

// Stop aborts any current playback. Safe to call with nothing playing.
func (m *PlaybackManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCurrentLocked()
}

func (m *PlaybackManager) stopCurrentLocked() {
	run := m.current
	if run == nil {
		return
	}
	if run.handle != nil {
		run.handle.Stop()
	}
	// The waiter goroutine also calls finish; endOnce keeps the signal single.
	m.current = nil
	run.endOnce.Do(m.onEnd)
}

func (m *PlaybackManager) finish(run *playbackRun) {
	m.mu.Lock()
	if m.current == run {
		m.current = nil
	}
	m.mu.Unlock()
	run.endOnce.Do(m.onEnd)
}
