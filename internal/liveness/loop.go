package liveness

import (
	"context"
	"errors"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/ftlgym/gatecheck/internal/camera"
	"github.com/ftlgym/gatecheck/internal/landmark"
	"github.com/ftlgym/gatecheck/internal/logger"
)

// ErrNoBlink reports that the deadline passed without a confirmed
// blink. The session stays retriable; nothing about the camera or
// model needs to be redone.
var ErrNoBlink = errors.New("no blink detected before deadline")

// Estimator yields landmark geometry for a single frame. Satisfied by
// *landmark.Handle.
type Estimator interface {
	EstimateFace(ctx context.Context, frame image.Image) (*landmark.LandmarkFrame, error)
}

// LoopConfig tunes the capture loop cadence and bound.
type LoopConfig struct {
	// Interval between ticks. Defaults to 100 ms (~10 Hz), enough for
	// blink detection while keeping estimation cost bounded.
	Interval time.Duration
	// Timeout bounds the whole wait for a blink. Zero means wait until
	// the context is cancelled.
	Timeout time.Duration
}

// Run polls frames from src, feeds the detector, and returns nil on the
// tick a blink is confirmed. It exits with ctx.Err() on cancellation or
// ErrNoBlink on timeout. Individual tick failures (estimation errors,
// a frame with no face, missing eye points) are skipped; they never
// abort the loop.
func Run(ctx context.Context, src camera.FrameSource, est Estimator, det *Detector, cfg LoopConfig) error {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	var deadline <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrNoBlink
		default:
		}

		blinked, err := observeTick(ctx, src, est, det)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, camera.ErrStopped) {
				return err
			}
			logger.Warn("liveness tick failed", zap.Error(err))
		}
		if blinked {
			// A result that lands after cancellation must be discarded.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrNoBlink
		case <-time.After(interval):
		}
	}
}

// observeTick runs one sample: frame, landmarks, both eyes, detector.
// A tick that cannot produce two valid eyes is skipped without touching
// the detector history.
func observeTick(ctx context.Context, src camera.FrameSource, est Estimator, det *Detector) (bool, error) {
	frame, err := src.Frame(ctx)
	if err != nil {
		return false, err
	}

	face, err := est.EstimateFace(ctx, frame)
	if err != nil {
		return false, err
	}
	if face == nil || len(face.Keypoints) == 0 {
		return false, nil
	}

	bounds := frame.Bounds()
	left, ok := eyePixels(face, landmark.LeftEyeIndices, bounds)
	if !ok {
		return false, nil
	}
	right, ok := eyePixels(face, landmark.RightEyeIndices, bounds)
	if !ok {
		return false, nil
	}

	return det.Observe(ComputeEAR(left), ComputeEAR(right)), nil
}

// eyePixels maps one eye's normalized keypoints into pixel space.
func eyePixels(face *landmark.LandmarkFrame, indices [6]int, bounds image.Rectangle) ([]landmark.Point, bool) {
	points, ok := face.EyePoints(indices)
	if !ok {
		return nil, false
	}
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	scaled := make([]landmark.Point, len(points))
	for i, p := range points {
		scaled[i] = landmark.Point{X: p.X * w, Y: p.Y * h}
	}
	return scaled, true
}
