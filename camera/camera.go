// Package camera models the projection cameras used by bundle adjustment: a
// pinhole camera at an arbitrary pose, an adjusted wrapper that layers a pose
// correction over any base camera, and the lens distortion models applied to
// normalized image coordinates.
package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrPointToPixel is when a world point cannot be projected into the image plane.
var ErrPointToPixel = errors.New("point does not project into the image plane")

// NewPointToPixelError is used when projection of a specific point fails.
func NewPointToPixelError(msg string) error {
	return errors.Wrap(ErrPointToPixel, msg)
}

// Model is a camera that can project world points into its image plane.
// Implementations must be safe for concurrent use once constructed.
type Model interface {
	// PointToPixel projects a 3D point in world coordinates to a pixel. The
	// returned error wraps ErrPointToPixel whenever the point has no finite
	// projection, e.g. it sits behind the camera.
	PointToPixel(pt r3.Vector) (r2.Point, error)
	// Center returns the camera center in world coordinates.
	Center() r3.Vector
}
