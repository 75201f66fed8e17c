package liveness

import (
	"math"

	"github.com/ftlgym/gatecheck/internal/landmark"
)

// NeutralEAR is substituted whenever the eye geometry is degenerate or
// the ratio comes out non-finite. 0.3 sits in the typical open-eye
// range, so a bad tick neither looks like a blink nor poisons the
// baseline.
const NeutralEAR = 0.3

// ComputeEAR computes the eye aspect ratio from six eye points in pixel
// coordinates, ordered corner, corner, then the two lid pairs:
//
//	EAR = (|p1-p5| + |p2-p4|) / (2 * |p0-p3|)
//
// Lower values mean a more closed eye. The function is pure; its only
// failure mode is falling back to NeutralEAR.
func ComputeEAR(points []landmark.Point) float64 {
	if len(points) < 6 {
		return NeutralEAR
	}

	vertical1 := dist(points[1], points[5])
	vertical2 := dist(points[2], points[4])
	horizontal := dist(points[0], points[3])

	// Sub-pixel eye width means the face is too small or the landmarks
	// collapsed; the ratio would be meaningless.
	if horizontal < 1 {
		return NeutralEAR
	}

	ear := (vertical1 + vertical2) / (2 * horizontal)
	if math.IsNaN(ear) || math.IsInf(ear, 0) || ear < 0 || ear > 1 {
		return NeutralEAR
	}
	return ear
}

// AverageEAR folds both eyes into the single per-tick openness signal.
func AverageEAR(left, right float64) float64 {
	return (left + right) / 2
}

func dist(p1, p2 landmark.Point) float64 {
	dx := p1.X - p2.X
	dy := p1.Y - p2.Y
	return math.Sqrt(dx*dx + dy*dy)
}
