package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"

	avatar "github.com/DaDanny/rpm-avatar/sdk"
)

const micSampleRateHz = 44100

// ffmpegRecorder captures the default microphone into an in-memory wav clip,
// one ffmpeg process per recording session.
type ffmpegRecorder struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	buf    bytes.Buffer
	copied chan struct{}
}

func newFFmpegRecorder() (*ffmpegRecorder, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", avatar.ErrDeviceUnavailable)
	}
	return &ffmpegRecorder{}, nil
}

func micFFmpegArgs(goos string) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "wav", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "wav", "-",
		}, nil
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

func (r *ffmpegRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return errors.New("recording already in progress")
	}

	args, err := micFFmpegArgs(runtime.GOOS)
	if err != nil {
		return fmt.Errorf("%v: %w", err, avatar.ErrDeviceUnavailable)
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg mic capture: %w", avatar.ErrDeviceUnavailable)
	}

	r.cmd = cmd
	r.buf.Reset()
	r.copied = make(chan struct{})
	go func(dst *bytes.Buffer, src io.Reader, done chan struct{}) {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, readErr := src.Read(buf)
			if n > 0 {
				r.mu.Lock()
				dst.Write(buf[:n])
				r.mu.Unlock()
			}
			if readErr != nil {
				return
			}
		}
	}(&r.buf, stdout, r.copied)
	return nil
}

func (r *ffmpegRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	cmd := r.cmd
	copied := r.copied
	r.cmd = nil
	r.mu.Unlock()
	if cmd == nil {
		return nil, nil
	}

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
	<-copied

	r.mu.Lock()
	clip := append([]byte(nil), r.buf.Bytes()...)
	r.buf.Reset()
	r.mu.Unlock()
	return clip, nil
}

// ffplayPlayer plays one encoded clip per ffplay process.
type ffplayPlayer struct{}

func newFFplayPlayer() (*ffplayPlayer, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay not found in PATH (install ffmpeg/ffplay)")
	}
	return &ffplayPlayer{}, nil
}

type ffplayHandle struct {
	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	stopOnce sync.Once
}

func (p *ffplayPlayer) Start(audio []byte, format string) (avatar.PlayerHandle, error) {
	cmd := exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}

	h := &ffplayHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		_, _ = stdin.Write(audio)
		_ = stdin.Close()
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

func (h *ffplayHandle) Wait() error {
	<-h.done
	return h.err
}

func (h *ffplayHandle) Stop() {
	h.stopOnce.Do(func() {
		if h.cmd != nil && h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
	})
}
