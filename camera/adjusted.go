package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/openterra/stereopipeline/spatialmath"
)

// PoseParams is the number of values in a packed pose vector: a world frame
// translation followed by an R3 axis angle rotation.
const PoseParams = 6

// Adjustment is a pose correction layered on top of a base camera: a world
// frame translation plus a rotation applied about the base camera center.
type Adjustment struct {
	Translation r3.Vector
	Rotation    quat.Number
}

// AdjustmentFromParams decodes a packed pose vector into an Adjustment.
func AdjustmentFromParams(params []float64) (Adjustment, error) {
	if len(params) != PoseParams {
		return Adjustment{}, errors.Errorf("expected %d pose parameters, got %d", PoseParams, len(params))
	}
	rot := spatialmath.R3ToR4(r3.Vector{params[3], params[4], params[5]})
	return Adjustment{
		Translation: r3.Vector{params[0], params[1], params[2]},
		Rotation:    rot.ToQuat(),
	}, nil
}

// Params encodes the adjustment into a packed pose vector.
func (a Adjustment) Params() []float64 {
	aa := spatialmath.QuatToR3AA(a.Rotation)
	return []float64{a.Translation.X, a.Translation.Y, a.Translation.Z, aa.X, aa.Y, aa.Z}
}

// Adjusted applies an Adjustment on top of a base camera. Projection moves the
// world point through the inverse correction and hands it to the base camera,
// so a zero adjustment reproduces the base camera exactly.
type Adjusted struct {
	Base       Model
	Adjustment Adjustment
}

// PointToPixel projects a 3D point in world coordinates to a pixel in the
// image plane of the corrected camera.
func (a *Adjusted) PointToPixel(pt r3.Vector) (r2.Point, error) {
	center := a.Base.Center()
	offset := pt.Sub(center).Sub(a.Adjustment.Translation)
	rotated := spatialmath.QuatRotateVector(quat.Conj(a.Adjustment.Rotation), offset)
	return a.Base.PointToPixel(rotated.Add(center))
}

// Center returns the corrected camera center in world coordinates.
func (a *Adjusted) Center() r3.Vector {
	return a.Base.Center().Add(a.Adjustment.Translation)
}
