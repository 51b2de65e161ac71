// Package bundleadjust implements the residual layer of a bundle adjustment
// problem: cost terms that measure how well camera poses, camera intrinsics,
// and triangulated ground points explain observed image measurements, stereo
// disparities, and ground control. Each cost declares its parameter block
// layout so an external nonlinear least squares solver can own the parameter
// memory and drive the optimization; the solver package provides one such
// bridge.
//
// Evaluations are reentrant and may run concurrently. The only shared mutable
// state is the FailureTracker, which is touched on the failure path only.
package bundleadjust

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const (
	// NumPointParams is the number of values in a 3D point parameter block.
	NumPointParams = 3
	// NumPoseParams is the number of values in a packed pose parameter block:
	// three of translation followed by three of axis angle rotation.
	NumPoseParams = 6
	// PixelResiduals is the residual count of image plane costs, one per pixel axis.
	PixelResiduals = 2
	// FailedResidual is written to every residual slot when a projection
	// cannot be computed at all.
	FailedResidual = 1e+20
)

// Cost is one residual term of an adjustment problem, shaped the way
// nonlinear least squares solvers consume terms: a fixed residual count, a
// declared list of parameter block sizes, and an evaluation that fills the
// residual slice from the current block values.
//
// Evaluate must write every residual slot on every call, and must not retain
// or mutate the parameter blocks. It returns false when the residuals could
// not be computed from the given parameters.
type Cost interface {
	NumResiduals() int
	BlockSizes() []int
	Evaluate(blocks [][]float64, residuals []float64) bool
}

// Observation is a pixel measurement of a 3D point in one image, along with
// the per axis standard deviation of the measurement in pixels.
type Observation struct {
	Pixel      r2.Point
	PixelSigma r2.Point
}

// CheckValid checks if the fields for Observation have valid inputs.
func (o Observation) CheckValid() error {
	if o.PixelSigma.X <= 0 || o.PixelSigma.Y <= 0 {
		return errors.Errorf("pixel sigma must be positive on both axes, got (%v, %v)", o.PixelSigma.X, o.PixelSigma.Y)
	}
	return nil
}

// NumParams returns the total number of parameters across all of a camera
// model's blocks.
func NumParams(model CameraModel) int {
	return lo.Sum(model.BlockSizes())
}

// checkBlocks verifies that the given blocks match the model's declared
// layout.
func checkBlocks(model CameraModel, blocks [][]float64) error {
	sizes := model.BlockSizes()
	if len(blocks) != len(sizes) {
		return errors.Errorf("expected %d parameter blocks, got %d", len(sizes), len(blocks))
	}
	for i, size := range sizes {
		if len(blocks[i]) != size {
			return errors.Errorf("parameter block %d has %d values, expected %d", i, len(blocks[i]), size)
		}
	}
	return nil
}
