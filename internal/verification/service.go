package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ftlgym/gatecheck/internal/camera"
	"github.com/ftlgym/gatecheck/internal/facematch"
	"github.com/ftlgym/gatecheck/internal/landmark"
	"github.com/ftlgym/gatecheck/internal/liveness"
	"github.com/ftlgym/gatecheck/internal/logger"
	"github.com/ftlgym/gatecheck/internal/models"
	"github.com/ftlgym/gatecheck/internal/storage"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotResolved     = errors.New("session is not resolved")
	// ErrBlinkRequired guards the submission path: a frame may only be
	// sent to the oracle after a confirmed blink.
	ErrBlinkRequired = errors.New("blink required before submission")
)

// Oracle answers whose face is on a captured frame. Satisfied by
// *facematch.Client.
type Oracle interface {
	ValidateFace(ctx context.Context, imageB64 string) (*facematch.Result, error)
}

// EventSink records resolved verification attempts. Satisfied by
// *database.EventRepo.
type EventSink interface {
	Record(ctx context.Context, event *models.VerificationEvent) error
}

// SourceFactory acquires a camera for a new session. Each session owns
// the source it gets until teardown or a successful verification.
type SourceFactory func() (camera.FrameSource, error)

type Config struct {
	// BlinkWait bounds how long a session waits for a blink before
	// resolving with a retriable failure.
	BlinkWait time.Duration
	// LoopInterval is the liveness sampling cadence.
	LoopInterval time.Duration
	// CameraWait bounds camera warmup.
	CameraWait time.Duration
	// SnapshotMaxDim is the longest edge of the captured frame sent to
	// the oracle.
	SnapshotMaxDim int
}

type Service struct {
	loader    *landmark.Loader
	oracle    Oracle
	sources   SourceFactory
	sink      EventSink
	snapshots storage.SnapshotStore
	config    Config

	sessions   map[string]*Session
	sessionsMu sync.RWMutex
}

func NewService(
	loader *landmark.Loader,
	oracle Oracle,
	sources SourceFactory,
	sink EventSink,
	snapshots storage.SnapshotStore,
	config Config,
) *Service {
	if config.BlinkWait == 0 {
		config.BlinkWait = 60 * time.Second
	}
	if config.CameraWait == 0 {
		config.CameraWait = 10 * time.Second
	}
	if config.SnapshotMaxDim == 0 {
		config.SnapshotMaxDim = 640
	}

	return &Service{
		loader:    loader,
		oracle:    oracle,
		sources:   sources,
		sink:      sink,
		snapshots: snapshots,
		config:    config,
		sessions:  make(map[string]*Session),
	}
}

// StartVerification creates a session for one booking party and kicks
// off the camera/liveness flow in the background.
func (s *Service) StartVerification(ctx context.Context, booking Booking) (*Session, error) {
	if !booking.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", booking.Role)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	session := &Session{
		ID:        uuid.New().String(),
		Booking:   booking,
		StartedAt: time.Now(),
		state:     StateIdle,
		cancel:    cancel,
		updates:   make(chan Update, 100),
	}

	s.sessionsMu.Lock()
	s.sessions[session.ID] = session
	s.sessionsMu.Unlock()

	logger.Info("verification started",
		zap.String("session_id", session.ID),
		zap.Int64("booking_id", booking.BookingID),
		zap.String("role", string(booking.Role)))

	go s.runVerification(loopCtx, session)

	return session, nil
}

func (s *Service) GetSession(sessionID string) (*Session, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	session, exists := s.sessions[sessionID]
	return session, exists
}

// Retry re-runs a resolved session. After a network failure the
// already-captured, blink-gated frame is resubmitted directly; every
// other failure starts over with fresh blink detection, reacquiring the
// camera if the previous attempt released it.
func (s *Service) Retry(sessionID string) error {
	session, exists := s.GetSession(sessionID)
	if !exists {
		return ErrSessionNotFound
	}

	session.mu.Lock()
	if session.state != StateResolved {
		session.mu.Unlock()
		return ErrNotResolved
	}
	resume := session.outcome != nil &&
		session.outcome.Reason == FailureNetworkError &&
		session.capturedB64 != ""
	loopCtx, cancel := context.WithCancel(context.Background())
	session.state = StateIdle
	session.outcome = nil
	session.resolvedAt = nil
	session.snapshotPath = ""
	if !resume {
		session.blinkFired = false
		session.capturedB64 = ""
		session.capturedRaw = nil
	}
	session.cancel = cancel
	session.mu.Unlock()

	logger.Info("verification retry", zap.String("session_id", sessionID))

	go s.runVerification(loopCtx, session)
	return nil
}

// Teardown cancels the session loop, stops the camera synchronously,
// and forgets the session.
func (s *Service) Teardown(sessionID string) error {
	s.sessionsMu.Lock()
	session, exists := s.sessions[sessionID]
	if exists {
		delete(s.sessions, sessionID)
	}
	s.sessionsMu.Unlock()

	if !exists {
		return ErrSessionNotFound
	}

	session.mu.Lock()
	cancel := session.cancel
	session.state = StateIdle
	session.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.stopSource(session)
	session.close()

	logger.Info("verification torn down", zap.String("session_id", sessionID))
	return nil
}

func (s *Service) runVerification(ctx context.Context, session *Session) {
	outcome := s.attempt(ctx, session)
	if outcome == nil || ctx.Err() != nil {
		// Torn down mid-flight; nothing is resolved or recorded.
		return
	}

	// The camera is released before the session becomes retryable, so
	// a prompt retry never reuses a source that is about to stop.
	if outcome.Verified {
		s.stopSource(session)
	}

	session.resolve(outcome)
	s.recordOutcome(session, outcome)
}

// attempt runs one full verification pass and returns its outcome, or
// nil when the session was cancelled.
func (s *Service) attempt(ctx context.Context, session *Session) *Outcome {
	if imageB64, raw, ok := session.pendingCapture(); ok {
		return s.resubmit(ctx, session, imageB64, raw)
	}

	src, outcome := s.acquireSource(ctx, session)
	if outcome != nil || src == nil {
		return outcome
	}

	session.setState(StateModelLoading)
	handle, err := s.loader.EnsureLoaded(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logger.Error("face model load failed", zap.String("session_id", session.ID), zap.Error(err))
		return &Outcome{
			Reason:  FailureModelError,
			Message: "Face detection model failed to load. Please try again.",
		}
	}

	if err := camera.AwaitReady(ctx, src, s.config.CameraWait); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return cameraOutcome(session, err)
	}

	session.setState(StateAwaitingBlink)
	detector := liveness.NewDetector(liveness.DefaultConfig())
	err = liveness.Run(ctx, src, handle, detector, liveness.LoopConfig{
		Interval: s.config.LoopInterval,
		Timeout:  s.config.BlinkWait,
	})
	switch {
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, liveness.ErrNoBlink):
		return &Outcome{
			Reason:  FailureNoBlink,
			Message: "No blink detected. Please look at the camera and blink.",
		}
	case err != nil:
		return cameraOutcome(session, err)
	}

	session.markBlinkFired()
	session.setState(StateCaptured)

	imageB64, raw, err := camera.CaptureStill(ctx, src, s.config.SnapshotMaxDim)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return cameraOutcome(session, err)
	}
	session.setCapture(imageB64, raw)

	return s.resubmit(ctx, session, imageB64, raw)
}

// resubmit wraps submit for both the fresh-capture path and the
// retained-capture retry path.
func (s *Service) resubmit(ctx context.Context, session *Session, imageB64 string, raw []byte) *Outcome {
	outcome, err := s.submit(ctx, session, imageB64, raw)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logger.Error("submission rejected", zap.String("session_id", session.ID), zap.Error(err))
		return &Outcome{
			Reason:  FailureNoBlink,
			Message: "Verification requires a blink first.",
		}
	}
	return outcome
}

// acquireSource reuses the session's running camera or acquires and
// starts a new one.
func (s *Service) acquireSource(ctx context.Context, session *Session) (camera.FrameSource, *Outcome) {
	session.mu.Lock()
	src := session.source
	session.mu.Unlock()
	if src != nil {
		return src, nil
	}

	src, err := s.sources()
	if err != nil {
		logger.Error("camera acquisition failed", zap.String("session_id", session.ID), zap.Error(err))
		return nil, cameraOutcome(session, err)
	}
	if err := src.Start(ctx); err != nil {
		src.Stop()
		return nil, cameraOutcome(session, err)
	}

	session.mu.Lock()
	session.source = src
	session.mu.Unlock()
	return src, nil
}

// submit sends the liveness-gated frame to the oracle and reconciles
// the matched identity against the booked person.
func (s *Service) submit(ctx context.Context, session *Session, imageB64 string, raw []byte) (*Outcome, error) {
	if !session.BlinkFired() {
		return nil, ErrBlinkRequired
	}

	session.setState(StateSubmitting)
	s.saveSnapshot(session, raw)

	result, err := s.oracle.ValidateFace(ctx, imageB64)
	if err != nil {
		// The capture stays on the session; a retry resubmits it
		// without another liveness pass.
		logger.Error("oracle call failed", zap.String("session_id", session.ID), zap.Error(err))
		return &Outcome{
			Reason:  FailureNetworkError,
			Message: "Could not reach the verification service. Please try again.",
		}, nil
	}
	session.clearCapture()

	if !result.Matched {
		message := strings.TrimSpace(result.Error)
		if message == "" {
			message = "Face not recognized."
		}
		return &Outcome{
			Reason:  FailureNotMatched,
			Message: message,
		}, nil
	}

	matchedName := candidateName(result.Candidate)
	expected := strings.TrimSpace(session.Booking.Person)
	if expected != "" && !strings.EqualFold(matchedName, expected) {
		// The matched name stays in the logs; the receptionist only
		// learns that the face belongs to someone else.
		logger.Warn("matched identity disagrees with booking",
			zap.String("session_id", session.ID),
			zap.String("expected", expected),
			zap.String("matched", matchedName))
		return &Outcome{
			Reason:  FailureNameMismatch,
			Message: "Face does not match the booked person.",
		}, nil
	}

	display := expected
	if display == "" {
		display = matchedName
	}
	logger.Info("verification succeeded",
		zap.String("session_id", session.ID),
		zap.Float64("score", result.BestScore))
	return &Outcome{
		Verified: true,
		Message:  fmt.Sprintf("Verified: %s", display),
		Score:    result.BestScore,
	}, nil
}

func (s *Service) saveSnapshot(session *Session, raw []byte) {
	if s.snapshots == nil || len(raw) == 0 {
		return
	}
	path, err := s.snapshots.SaveSnapshot(session.ID, raw)
	if err != nil {
		logger.Warn("snapshot save failed", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	session.mu.Lock()
	session.snapshotPath = path
	session.mu.Unlock()
}

// recordOutcome writes the durable event for a confirmed verification.
// Failures are never persisted, and the recorded flag makes the write
// at most once per session. It runs detached from the session context
// so teardown cannot lose an already-resolved result.
func (s *Service) recordOutcome(session *Session, outcome *Outcome) {
	if s.sink == nil || !outcome.Verified {
		return
	}

	session.mu.Lock()
	if session.recorded {
		session.mu.Unlock()
		return
	}
	session.recorded = true
	snapshot := session.snapshotPath
	session.mu.Unlock()

	event := models.NewVerificationEvent(
		session.Booking.BookingID,
		string(session.Booking.Role),
		session.Booking.Person,
		outcome.Verified,
		snapshot,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sink.Record(ctx, event); err != nil {
		logger.Error("failed to record verification event",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *Service) stopSource(session *Session) {
	session.mu.Lock()
	src := session.source
	session.source = nil
	session.mu.Unlock()

	if src != nil {
		src.Stop()
	}
}

func cameraOutcome(session *Session, err error) *Outcome {
	logger.Error("camera failure", zap.String("session_id", session.ID), zap.Error(err))

	message := "Camera error. Please check the device and try again."
	if errors.Is(err, camera.ErrPermissionDenied) {
		message = "Camera access denied. Please grant camera permission."
	} else if errors.Is(err, camera.ErrDeviceNotFound) {
		message = "No camera found. Please connect a camera."
	}
	return &Outcome{
		Reason:  FailureCameraError,
		Message: message,
	}
}

func candidateName(c *facematch.Candidate) string {
	if c == nil {
		return ""
	}
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}
