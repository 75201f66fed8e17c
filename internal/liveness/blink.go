package liveness

// Config holds the blink detection thresholds. The detector is a
// deliberately permissive liveness gate: it only has to separate "no
// eyelid motion at all" (a photograph) from "any eyelid motion" (a live
// subject), so the drop criteria are small and OR-ed together.
type Config struct {
	// MinBaseline is the smallest trailing-average EAR that counts as
	// "eyes plausibly open". Below it we refuse to confirm a blink.
	MinBaseline float64
	// MinAbsoluteDrop is the required drop from baseline to current.
	MinAbsoluteDrop float64
	// MinRelativeDrop is the required drop as a fraction of baseline.
	MinRelativeDrop float64
	// MinFrameDrop is the required drop from the previous sample.
	MinFrameDrop float64
	// MinTwoFrameDrop is the required drop versus two samples back,
	// catching blinks that straddle a tick boundary.
	MinTwoFrameDrop float64
	// HistorySize bounds the EAR history (FIFO).
	HistorySize int
}

// DefaultConfig is the single consolidated rule set used everywhere.
func DefaultConfig() Config {
	return Config{
		MinBaseline:     0.2,
		MinAbsoluteDrop: 0.015,
		MinRelativeDrop: 0.05,
		MinFrameDrop:    0.015,
		MinTwoFrameDrop: 0.02,
		HistorySize:     10,
	}
}

// Detector watches the per-tick EAR signal for a sharp drop. It fires
// at most once; after that every Observe returns false until Reset.
// Not safe for concurrent use; each detection session owns one.
type Detector struct {
	cfg     Config
	history []float64
	fired   bool
}

func NewDetector(cfg Config) *Detector {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	return &Detector{
		cfg:     cfg,
		history: make([]float64, 0, cfg.HistorySize),
	}
}

// Observe records one tick of eye openness and reports whether this
// tick confirms a blink. Ticks without two valid eyes must be skipped
// by the caller, not fed in as zeros.
func (d *Detector) Observe(leftEAR, rightEAR float64) bool {
	if d.fired {
		return false
	}

	d.history = append(d.history, AverageEAR(leftEAR, rightEAR))
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[1:]
	}

	n := len(d.history)
	if n < 2 {
		return false
	}

	current := d.history[n-1]

	// Baseline is a short trailing window: the one or two samples
	// immediately before the current one, not the whole history.
	start := n - 3
	if start < 0 {
		start = 0
	}
	window := d.history[start : n-1]
	baseline := mean(window)

	absoluteDrop := baseline - current
	relativeDrop := 0.0
	if baseline > 0 {
		relativeDrop = (baseline - current) / baseline
	}

	prev := d.history[n-2]
	frameDrop := prev - current

	twoFrameDrop := frameDrop
	if n >= 3 {
		twoFrameDrop = d.history[n-3] - current
	}

	if baseline >= d.cfg.MinBaseline &&
		current < baseline &&
		(absoluteDrop >= d.cfg.MinAbsoluteDrop ||
			relativeDrop >= d.cfg.MinRelativeDrop ||
			frameDrop >= d.cfg.MinFrameDrop ||
			twoFrameDrop >= d.cfg.MinTwoFrameDrop) {
		d.fired = true
		return true
	}

	return false
}

// Fired reports whether the one-shot blink event has been emitted.
func (d *Detector) Fired() bool {
	return d.fired
}

// Reset clears the history and re-arms the detector for a new session.
func (d *Detector) Reset() {
	d.history = d.history[:0]
	d.fired = false
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}
