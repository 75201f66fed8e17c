package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// Classified acquisition failures. The verification layer maps these to
// actionable user messages; anything else is reported as a generic
// camera error.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceNotFound   = errors.New("camera device not found")
	ErrStopped          = errors.New("camera stopped")
)

// FrameSource delivers live video frames from a capture device. A
// source is owned by exactly one verification session at a time; Stop
// releases the underlying hardware synchronously and the source cannot
// be restarted afterwards.
type FrameSource interface {
	// Start begins capturing. It returns once the capture pipeline is
	// spawned; readiness (first decoded frame) is signaled separately.
	Start(ctx context.Context) error
	// Ready is closed after the first frame has been decoded. If the
	// source fails before that, Ready is closed too and Err reports
	// the terminal readiness error.
	Ready() <-chan struct{}
	// Err returns the terminal error, if any.
	Err() error
	// Frame returns the most recently decoded frame.
	Frame(ctx context.Context) (image.Image, error)
	// Stop releases the device. Idempotent.
	Stop()
}

// AwaitReady resolves the source's readiness future: it returns nil
// once the stream has decoded at least one frame, the source's terminal
// error if it failed, or a timeout error.
func AwaitReady(ctx context.Context, src FrameSource, timeout time.Duration) error {
	select {
	case <-src.Ready():
		if err := src.Err(); err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for camera stream")
	}
}
