package bundleadjust

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ReprojectionCost compares the projection of a 3D point through a
// parameterized camera against the pixel where the point was actually
// observed. Residuals are (predicted - observed) normalized by the per axis
// measurement sigma, so they are dimensionless.
type ReprojectionCost struct {
	observation Observation
	model       CameraModel
	failures    *FailureTracker
}

// NewReprojectionCost ties an observation to the camera model that made it.
// The failure tracker is shared with the problem's other reprojection costs.
func NewReprojectionCost(observation Observation, model CameraModel, failures *FailureTracker) (*ReprojectionCost, error) {
	var err error
	if e := observation.CheckValid(); e != nil {
		err = multierr.Append(err, e)
	}
	if model == nil {
		err = multierr.Append(err, errors.New("reprojection cost needs a camera model"))
	}
	if failures == nil {
		err = multierr.Append(err, errors.New("reprojection cost needs a failure tracker"))
	}
	if err != nil {
		return nil, err
	}
	return &ReprojectionCost{observation: observation, model: model, failures: failures}, nil
}

// NumResiduals returns the number of residuals, one per pixel axis.
func (c *ReprojectionCost) NumResiduals() int {
	return PixelResiduals
}

// BlockSizes returns the parameter block layout, which is the camera model's.
func (c *ReprojectionCost) BlockSizes() []int {
	return c.model.BlockSizes()
}

// Evaluate projects the point through the parameterized camera and fills the
// two pixel residuals. When the projection cannot be computed the failure is
// recorded on the shared tracker, both residuals are set to FailedResidual,
// and Evaluate returns false.
func (c *ReprojectionCost) Evaluate(blocks [][]float64, residuals []float64) bool {
	prediction, err := c.model.Evaluate(blocks)
	if err != nil {
		c.failures.Record(err)
		residuals[0] = FailedResidual
		residuals[1] = FailedResidual
		return false
	}
	// Input units are pixels.
	residuals[0] = (prediction.X - c.observation.Pixel.X) / c.observation.PixelSigma.X
	residuals[1] = (prediction.Y - c.observation.Pixel.Y) / c.observation.PixelSigma.Y
	return true
}
