package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ftlgym/gatecheck/internal/logger"
)

// Device captures frames from a V4L2 camera by running ffmpeg as an
// MJPEG pipe. Stopping the device kills the ffmpeg process, which
// releases the hardware immediately.
type Device struct {
	devicePath string
	ffmpegPath string
	frameRate  int
	size       string

	mu      sync.Mutex
	cmd     *exec.Cmd
	latest  image.Image
	err     error
	stopped bool
	started bool

	ready     chan struct{}
	readyOnce sync.Once
}

func NewDevice(devicePath string) (*Device, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	return &Device{
		devicePath: devicePath,
		ffmpegPath: ffmpegPath,
		frameRate:  10,
		size:       "1280x720",
		ready:      make(chan struct{}),
	}, nil
}

func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if d.started {
		return nil
	}

	args := []string{
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", d.frameRate),
		"-video_size", d.size,
		"-i", d.devicePath,
		"-f", "mjpeg",
		"-q:v", "4",
		"pipe:1",
	}
	cmd := exec.Command(d.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	d.cmd = cmd
	d.started = true

	logger.Info("camera capture started", zap.String("device", d.devicePath))

	go d.readFrames(stdout)
	go func() {
		waitErr := cmd.Wait()
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.stopped {
			return
		}
		// The process died on its own: classify the failure from the
		// ffmpeg diagnostics so the UI can tell the operator what to fix.
		d.err = classifyCaptureError(stderr.String(), waitErr)
		d.signalReady()
		logger.Error("camera capture exited", zap.Error(d.err))
	}()

	return nil
}

func (d *Device) readFrames(r io.Reader) {
	br := bufio.NewReaderSize(r, 1<<20)
	for {
		frame, err := readJPEGFrame(br)
		if err != nil {
			return
		}
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			continue
		}
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		d.latest = img
		d.signalReady()
		d.mu.Unlock()
	}
}

// readJPEGFrame scans the MJPEG byte stream for the next SOI..EOI pair.
func readJPEGFrame(br *bufio.Reader) ([]byte, error) {
	// Seek start-of-image.
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == 0xD8 {
			break
		}
	}

	frame := []byte{0xFF, 0xD8}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		frame = append(frame, b)
		if b != 0xFF {
			continue
		}
		next, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		frame = append(frame, next)
		if next == 0xD9 {
			return frame, nil
		}
	}
}

// signalReady closes the readiness channel once. Caller holds d.mu.
func (d *Device) signalReady() {
	d.readyOnce.Do(func() { close(d.ready) })
}

func (d *Device) Ready() <-chan struct{} {
	return d.ready
}

func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Device) Frame(ctx context.Context) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, ErrStopped
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.latest == nil {
		return nil, fmt.Errorf("no frame decoded yet")
	}
	return d.latest, nil
}

// Stop kills the capture process and releases the device. Safe to call
// more than once and from any goroutine.
func (d *Device) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	cmd := d.cmd
	d.signalReady()
	d.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	logger.Info("camera capture stopped", zap.String("device", d.devicePath))
}

func classifyCaptureError(stderr string, waitErr error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, firstLine(stderr))
	case strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "cannot open video device"):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, firstLine(stderr))
	case waitErr != nil:
		return fmt.Errorf("camera capture failed: %w", waitErr)
	default:
		return fmt.Errorf("camera capture ended unexpectedly")
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "ffmpeg version") {
			return line
		}
	}
	return strings.TrimSpace(s)
}
