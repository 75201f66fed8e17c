package verification

import (
	"sync"
	"time"

	"github.com/ftlgym/gatecheck/internal/camera"
)

// Role names which party of a booking is being verified.
type Role string

const (
	RoleMember Role = "member"
	RolePT     Role = "pt"
)

func (r Role) Valid() bool {
	return r == RoleMember || r == RolePT
}

// State is the lifecycle phase of a verification session. Transitions
// only move forward within one attempt; Retry starts a fresh attempt
// from the beginning.
type State string

const (
	StateIdle          State = "idle"
	StateModelLoading  State = "model_loading"
	StateAwaitingBlink State = "awaiting_blink"
	StateCaptured      State = "captured"
	StateSubmitting    State = "submitting"
	StateResolved      State = "resolved"
)

// FailureReason classifies why a resolved attempt did not verify.
type FailureReason string

const (
	FailureNotMatched   FailureReason = "not_matched"
	FailureNameMismatch FailureReason = "name_mismatch"
	FailureNetworkError FailureReason = "network_error"
	FailureNoBlink      FailureReason = "no_blink"
	FailureCameraError  FailureReason = "camera_error"
	FailureModelError   FailureReason = "model_error"
)

// Booking ties a session to the dashboard row it is verifying.
type Booking struct {
	BookingID int64  `json:"booking_id"`
	Role      Role   `json:"role"`
	// Person is the display name the matched identity must agree with.
	Person string `json:"person"`
}

// Outcome is the result of one resolved attempt. Message is shown to
// the receptionist; it never contains the name the oracle actually
// matched, only whether it agreed.
type Outcome struct {
	Verified bool          `json:"verified"`
	Reason   FailureReason `json:"reason,omitempty"`
	Message  string        `json:"message"`
	// Score is the oracle's match confidence, set on success only.
	Score float64 `json:"score,omitempty"`
}

// Update is one server-sent event on a session's stream.
type Update struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Session is one camera-bound verification flow. All mutable fields are
// guarded by mu; the run loop writes, HTTP handlers read.
type Session struct {
	ID        string
	Booking   Booking
	StartedAt time.Time

	mu           sync.RWMutex
	state        State
	outcome      *Outcome
	blinkFired   bool
	recorded     bool
	resolvedAt   *time.Time
	snapshotPath string
	capturedB64  string
	capturedRaw  []byte
	source       camera.FrameSource
	cancel       func()
	updates      chan Update
	closed       bool
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Outcome() *Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

func (s *Session) BlinkFired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blinkFired
}

// Updates is the event stream consumed by the SSE handler. It is closed
// on teardown, never on resolution, so a resolved session can still be
// watched and retried.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// pendingCapture returns the blink-gated frame held over from an
// attempt that failed in transit. A retry resubmits it instead of
// demanding a second blink.
func (s *Session) pendingCapture() (string, []byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capturedB64, s.capturedRaw, s.capturedB64 != ""
}

func (s *Session) setCapture(imageB64 string, raw []byte) {
	s.mu.Lock()
	s.capturedB64 = imageB64
	s.capturedRaw = raw
	s.mu.Unlock()
}

func (s *Session) clearCapture() {
	s.mu.Lock()
	s.capturedB64 = ""
	s.capturedRaw = nil
	s.mu.Unlock()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.publish(Update{Type: "state", Data: map[string]interface{}{
		"session_id": s.ID,
		"state":      state,
	}})
}

func (s *Session) markBlinkFired() {
	s.mu.Lock()
	s.blinkFired = true
	s.mu.Unlock()
	s.publish(Update{Type: "blink", Data: map[string]interface{}{
		"session_id": s.ID,
	}})
}

func (s *Session) resolve(outcome *Outcome) {
	now := time.Now()
	s.mu.Lock()
	s.state = StateResolved
	s.outcome = outcome
	s.resolvedAt = &now
	s.mu.Unlock()
	s.publish(Update{Type: "resolved", Data: outcome})
}

// publish delivers an update without ever blocking the run loop. Events
// for a slow or absent consumer are dropped; the session state remains
// queryable over plain GET.
func (s *Session) publish(update Update) {
	// The read lock also excludes close(), so the channel cannot be
	// closed mid-send.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- update:
	default:
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.updates)
}
