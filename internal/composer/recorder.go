package composer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"client_go/internal/domain"
)

// DefaultLockThreshold is the upward drag, in pixels, that locks a
// hold-to-record gesture.
const DefaultLockThreshold = 80

type RecorderState int

const (
	RecorderIdle RecorderState = iota
	RecorderHold
	RecorderLocked
	RecorderPreview
)

func (s RecorderState) String() string {
	switch s {
	case RecorderIdle:
		return "idle"
	case RecorderHold:
		return "recordingHold"
	case RecorderLocked:
		return "recordingLocked"
	case RecorderPreview:
		return "preview"
	}
	return fmt.Sprintf("recorderState(%d)", int(s))
}

// ErrRecorderBusy is returned by PressStart when a recording is in progress
// or waiting in preview.
var ErrRecorderBusy = errors.New("recorder busy")

// Recording is a finished voice clip.
type Recording struct {
	URI      string
	Duration time.Duration
}

// Capture is the audio device behind the recorder.
type Capture interface {
	Start() error
	// Stop ends the capture and returns what was recorded.
	Stop() (Recording, error)
	// Discard ends the capture and drops its data.
	Discard()
}

// Recorder is the hold-to-lock voice recording state machine. Holding
// records; dragging up past the threshold locks the recording so it
// survives releases and interruptions until it is sent or deleted.
type Recorder struct {
	capture   Capture
	threshold float64
	now       func() time.Time

	mu        sync.Mutex
	state     RecorderState
	startedAt time.Time
	preview   Recording
}

type RecorderOption func(*Recorder)

func WithLockThreshold(px float64) RecorderOption {
	return func(r *Recorder) {
		if px > 0 {
			r.threshold = px
		}
	}
}

func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(capture Capture, opts ...RecorderOption) *Recorder {
	r := &Recorder{capture: capture, threshold: DefaultLockThreshold, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed is the running duration of the current recording, or the length
// of the clip in preview.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case RecorderHold, RecorderLocked:
		return r.now().Sub(r.startedAt)
	case RecorderPreview:
		return r.preview.Duration
	}
	return 0
}

// PressStart begins a held recording.
func (r *Recorder) PressStart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderIdle {
		return ErrRecorderBusy
	}
	if err := r.capture.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	r.state = RecorderHold
	r.startedAt = r.now()
	return nil
}

// DragUp reports the upward distance of the held finger and returns whether
// the recording is locked.
func (r *Recorder) DragUp(distance float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecorderHold && distance >= r.threshold {
		r.state = RecorderLocked
	}
	return r.state == RecorderLocked
}

// Release ends a held recording. A clip with audio moves to preview, an
// empty one is dropped. Releasing a locked recording does nothing.
func (r *Recorder) Release() (RecorderState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderHold {
		return r.state, nil
	}
	rec, err := r.capture.Stop()
	if err != nil {
		r.state = RecorderIdle
		return r.state, fmt.Errorf("stop capture: %w", err)
	}
	if rec.Duration <= 0 {
		r.state = RecorderIdle
		return r.state, nil
	}
	r.preview = rec
	r.state = RecorderPreview
	return r.state, nil
}

// Interrupt cancels a held recording, for example when the app loses focus.
// Locked recordings and previews are kept.
func (r *Recorder) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderHold {
		return
	}
	r.capture.Discard()
	r.state = RecorderIdle
}

// Send finishes a locked recording or the clip in preview and returns it.
// ok is false when there is nothing to send.
func (r *Recorder) Send() (rec Recording, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case RecorderLocked:
		rec, err = r.capture.Stop()
		if err != nil {
			// The clip may still be recoverable; stay locked.
			return Recording{}, false, fmt.Errorf("stop capture: %w", err)
		}
	case RecorderPreview:
		rec = r.preview
	default:
		return Recording{}, false, nil
	}
	r.state = RecorderIdle
	r.preview = Recording{}
	return rec, rec.Duration > 0, nil
}

// Delete discards a locked recording or the clip in preview.
func (r *Recorder) Delete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case RecorderLocked:
		r.capture.Discard()
	case RecorderPreview:
	default:
		return
	}
	r.state = RecorderIdle
	r.preview = Recording{}
}

// VoicePayload turns a finished recording into a voice message payload.
func VoicePayload(rec Recording) domain.Payload {
	return domain.Payload{Content: domain.Content{
		Kind: domain.KindVoice,
		Voice: &domain.Voice{
			URI:        rec.URI,
			DurationMs: rec.Duration.Milliseconds(),
		},
	}}
}
