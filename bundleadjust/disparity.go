package bundleadjust

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/openterra/stereopipeline/camera"
	"github.com/openterra/stereopipeline/disparity"
)

// DisparityCost checks two parameterized cameras against the stereo
// correlation between their images. A fixed reference point is projected into
// the left camera, carried into the right image by the disparity sampled at
// that pixel, and compared against the point's direct projection into the
// right camera. The residual is the distance between the two right image
// pixels, scaled by the reference terrain weight.
//
// The reference point is not a solver parameter: the cost owns it and feeds
// it to both cameras as their point block, so BlockSizes covers only the pose
// and intrinsic blocks of the left camera followed by those of the right.
type DisparityCost struct {
	referencePoint []float64
	field          disparity.Sampler
	left           CameraModel
	right          CameraModel
	maxError       float64
	weight         float64

	numLeftBlocks  int // pose and intrinsic blocks of the left camera
	numRightBlocks int
	blockSizes     []int
}

// NewDisparityCost validates the configuration and precomputes the block
// layout. maxError is the bounded residual used when the disparity cannot
// vouch for a pixel, and weight multiplies every residual this cost produces.
func NewDisparityCost(
	referencePoint r3.Vector,
	field disparity.Sampler,
	left, right CameraModel,
	maxError, weight float64,
) (*DisparityCost, error) {
	var err error
	if field == nil {
		err = multierr.Append(err, errors.New("disparity cost needs a disparity sampler"))
	}
	if left == nil || right == nil {
		err = multierr.Append(err, errors.New("disparity cost needs both camera models"))
	}
	if maxError <= 0 {
		err = multierr.Append(err, errors.Errorf("max disparity error must be positive, got %v", maxError))
	}
	if weight <= 0 {
		err = multierr.Append(err, errors.Errorf("reference terrain weight must be positive, got %v", weight))
	}
	if err != nil {
		return nil, err
	}

	leftSizes := left.BlockSizes()[1:]
	rightSizes := right.BlockSizes()[1:]
	return &DisparityCost{
		referencePoint: []float64{referencePoint.X, referencePoint.Y, referencePoint.Z},
		field:          field,
		left:           left,
		right:          right,
		maxError:       maxError,
		weight:         weight,
		numLeftBlocks:  len(leftSizes),
		numRightBlocks: len(rightSizes),
		blockSizes:     lo.Flatten([][]int{leftSizes, rightSizes}),
	}, nil
}

// NumResiduals returns the number of residuals, one per pixel axis.
func (c *DisparityCost) NumResiduals() int {
	return PixelResiduals
}

// BlockSizes returns the parameter block layout: the left camera's non point
// blocks followed by the right camera's non point blocks.
func (c *DisparityCost) BlockSizes() []int {
	sizes := make([]int, len(c.blockSizes))
	copy(sizes, c.blockSizes)
	return sizes
}

// Evaluate fills the two residuals from the current camera parameters. A
// pixel the disparity field cannot vouch for, or a reference point that does
// not project into one of the cameras, produces the bounded fallback residual
// and still counts as a successful evaluation; the robust loss downstream is
// expected to absorb it.
func (c *DisparityCost) Evaluate(blocks [][]float64, residuals []float64) bool {
	if len(blocks) != c.numLeftBlocks+c.numRightBlocks {
		residuals[0] = FailedResidual
		residuals[1] = FailedResidual
		return false
	}

	// The first block of each camera is always the point block.
	leftBlocks := make([][]float64, 0, c.numLeftBlocks+1)
	leftBlocks = append(leftBlocks, c.referencePoint)
	leftBlocks = append(leftBlocks, blocks[:c.numLeftBlocks]...)
	rightBlocks := make([][]float64, 0, c.numRightBlocks+1)
	rightBlocks = append(rightBlocks, c.referencePoint)
	rightBlocks = append(rightBlocks, blocks[c.numLeftBlocks:]...)

	leftPrediction, err := c.left.Evaluate(leftBlocks)
	if err != nil {
		return c.finish(err, residuals)
	}
	rightPrediction, err := c.right.Evaluate(rightBlocks)
	if err != nil {
		return c.finish(err, residuals)
	}

	disp, ok := c.field.Sample(leftPrediction)
	if !ok {
		return c.fallback(residuals)
	}

	rightFromDisp := leftPrediction.Add(disp)
	residuals[0] = (rightFromDisp.X - rightPrediction.X) * c.weight
	residuals[1] = (rightFromDisp.Y - rightPrediction.Y) * c.weight
	return true
}

// finish sorts an evaluation error: projection failures soften into the
// bounded fallback, anything else is a hard failure.
func (c *DisparityCost) finish(err error, residuals []float64) bool {
	if errors.Is(err, camera.ErrPointToPixel) {
		return c.fallback(residuals)
	}
	residuals[0] = FailedResidual
	residuals[1] = FailedResidual
	return false
}

func (c *DisparityCost) fallback(residuals []float64) bool {
	residuals[0] = c.maxError * c.weight
	residuals[1] = c.maxError * c.weight
	return true
}
