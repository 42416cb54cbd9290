package avatar

import (
	"fmt"
	"sync"

	"github.com/DaDanny/rpm-avatar/pkg/gateway/chat/protocol"
)

// ViewState is the client-side mirror of the session state. It is display
// state re-synthesized from server events; the server's busy flag stays
// authoritative.
type ViewState string

const (
	ViewDisconnected     ViewState = "disconnected"
	ViewIdle             ViewState = "idle"
	ViewRecording        ViewState = "recording"
	ViewAwaitingResponse ViewState = "awaiting_response"
)

// ErrTurnInFlight is returned by the view's optimistic busy pre-check. The
// server can still race it and answer with a busy_rejected error event.
var ErrTurnInFlight = fmt.Errorf("a turn is already awaiting its response")

// View tracks connection and turn state for UI purposes.
type View struct {
	mu         sync.Mutex
	state      ViewState
	lastStatus string
	speaking   bool
}

func NewView() *View {
	return &View{state: ViewDisconnected}
}

func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// LastStatus returns the most recent processing_status payload, for display.
func (v *View) LastStatus() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastStatus
}

// Speaking reports whether the avatar should animate as talking. It follows
// playback lifecycle signals only, never protocol stage events.
func (v *View) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speaking
}

// Connected moves the view out of disconnected into idle.
func (v *View) Connected() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == ViewDisconnected {
		v.state = ViewIdle
	}
}

func (v *View) Disconnected() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = ViewDisconnected
	v.lastStatus = ""
}

// StartRecording enters the recording state. It fails while a previous turn
// is outstanding and is a no-op when already recording.
func (v *View) StartRecording() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.state {
	case ViewRecording:
		return nil
	case ViewIdle:
		v.state = ViewRecording
		return nil
	case ViewAwaitingResponse:
		return ErrTurnInFlight
	default:
		return fmt.Errorf("cannot record while %s", v.state)
	}
}

// CancelRecording abandons an active recording without submitting a turn.
func (v *View) CancelRecording() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == ViewRecording {
		v.state = ViewIdle
	}
}

// TurnSubmitted marks a turn as sent, from idle or recording. This is the
// local half of the one-turn-in-flight rule.
func (v *View) TurnSubmitted() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.state {
	case ViewIdle, ViewRecording:
		v.state = ViewAwaitingResponse
		return nil
	case ViewAwaitingResponse:
		return ErrTurnInFlight
	default:
		return fmt.Errorf("cannot submit a turn while %s", v.state)
	}
}

// Apply folds a server event into the view.
func (v *View) Apply(ev Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch e := ev.(type) {
	case ProcessingStatusEvent:
		v.lastStatus = e.Status
		if e.Status == protocol.StatusComplete {
			v.state = ViewIdle
		}
	case ErrorEvent:
		// A busy rejection refers to the extra submission, not the turn
		// already in flight; the view must keep waiting for that one.
		if e.Busy() {
			return
		}
		if v.state == ViewAwaitingResponse {
			v.state = ViewIdle
		}
		v.lastStatus = ""
	}
}

// PlaybackStarted and PlaybackEnded are wired to the playback manager's
// lifecycle signals.
func (v *View) PlaybackStarted() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speaking = true
}

func (v *View) PlaybackEnded() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speaking = false
}
