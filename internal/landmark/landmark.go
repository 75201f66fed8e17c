package landmark

import (
	"context"
	"image"
)

// Point is a 2-D keypoint in normalized [0,1] image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LandmarkFrame holds the keypoints detected for a single video frame.
// At most one face is tracked; a frame with no detected face is
// represented as a nil *LandmarkFrame, not an error.
type LandmarkFrame struct {
	Keypoints []Point `json:"keypoints"`
}

// Eye keypoint indices in the MediaPipe FaceMesh topology. Order
// matters: positions 0 and 3 are the corners, (1,5) and (2,4) the lid
// pairs used by the EAR formula.
var (
	LeftEyeIndices  = [6]int{33, 133, 157, 158, 159, 160}
	RightEyeIndices = [6]int{362, 263, 388, 387, 386, 385}
)

// EyePoints extracts the six points for one eye. The second return is
// false when the indices are out of range or every point sits at the
// origin, which the mesh backend uses as a "not tracked" placeholder.
func (f *LandmarkFrame) EyePoints(indices [6]int) ([]Point, bool) {
	points := make([]Point, 0, len(indices))
	valid := false
	for _, idx := range indices {
		if idx < 0 || idx >= len(f.Keypoints) {
			return nil, false
		}
		p := f.Keypoints[idx]
		points = append(points, p)
		if p.X != 0 || p.Y != 0 {
			valid = true
		}
	}
	return points, valid
}

// MeshBackend is the face-landmark capability. Warmup initializes the
// underlying model; EstimateFace returns the tracked face for a frame,
// or nil when no face is visible.
type MeshBackend interface {
	Warmup(ctx context.Context) error
	EstimateFace(ctx context.Context, frame image.Image) (*LandmarkFrame, error)
}
