package landmark

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/ftlgym/gatecheck/internal/logger"
)

// ErrModelLoad marks a failed initialization of the landmark model.
// Callers surface it to the user; it is never retried automatically.
var ErrModelLoad = errors.New("landmark model failed to load")

const (
	loadTimeout   = 10 * time.Second
	readyPollStep = 100 * time.Millisecond
	readyPollMax  = 100
)

// Handle is the shared, read-only landmark detection capability. It is
// loaded once per process and safe for concurrent use.
type Handle struct {
	backend MeshBackend
}

func (h *Handle) EstimateFace(ctx context.Context, frame image.Image) (*LandmarkFrame, error) {
	return h.backend.EstimateFace(ctx, frame)
}

// Loader lazily initializes the landmark model exactly once. Concurrent
// EnsureLoaded calls share a single warmup; later calls return the
// cached handle (or the cached load error) without touching the backend
// again.
type Loader struct {
	backend MeshBackend

	mu      sync.Mutex
	loading bool
	done    chan struct{}
	handle  *Handle
	err     error
}

func NewLoader(backend MeshBackend) *Loader {
	return &Loader{backend: backend}
}

// EnsureLoaded returns the model handle, performing the underlying load
// on the first call. The load itself runs with its own bounded timeout;
// the caller's ctx only bounds how long this caller waits.
func (l *Loader) EnsureLoaded(ctx context.Context) (*Handle, error) {
	l.mu.Lock()
	if l.done != nil {
		done := l.done
		l.mu.Unlock()
		select {
		case <-done:
			return l.result()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	l.loading = true
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	logger.Info("loading landmark model")
	loadCtx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	warmupErr := l.backend.Warmup(loadCtx)
	cancel()

	l.mu.Lock()
	if warmupErr != nil {
		l.err = fmt.Errorf("%w: %v", ErrModelLoad, warmupErr)
		logger.Error("landmark model load failed")
	} else {
		l.handle = &Handle{backend: l.backend}
		logger.Info("landmark model loaded")
	}
	l.loading = false
	close(done)
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return l.result()
}

func (l *Loader) result() (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.handle, nil
}

// Loaded reports whether the model is ready for use.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}

// Loading reports whether a load is currently in progress.
func (l *Loader) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// AwaitReady blocks until the model is loaded, a load error is recorded,
// or the bounded wait (~10 s) expires. It never starts a load itself.
func (l *Loader) AwaitReady(ctx context.Context) error {
	for i := 0; i < readyPollMax; i++ {
		l.mu.Lock()
		handle, err, done := l.handle, l.err, l.done
		l.mu.Unlock()

		if handle != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if done != nil {
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readyPollStep):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollStep):
		}
	}
	return fmt.Errorf("%w: timed out waiting for model", ErrModelLoad)
}
