package bundleadjust

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	// driftPositionScale applies to the translation axes, whose units are
	// meters. Don't lock the camera down too tightly.
	driftPositionScale = 1e-2
	// driftRotationScale applies to the rotation axes, whose units are in a
	// radianish range.
	driftRotationScale = 5e1
)

// PoseDriftCost penalizes movement of a packed pose away from the pose it
// started with, keeping cameras near their initial estimates. Translation and
// rotation axes carry fixed internal scales that roughly balance their units;
// the single weight then sets how strongly the whole pose is held.
type PoseDriftCost struct {
	original []float64
	weight   float64
}

// NewPoseDriftCost snapshots the original pose; later changes to the caller's
// slice do not move the anchor.
func NewPoseDriftCost(original []float64, weight float64) (*PoseDriftCost, error) {
	if len(original) != NumPoseParams {
		return nil, errors.Errorf("expected %d pose parameters, got %d", NumPoseParams, len(original))
	}
	if weight <= 0 {
		return nil, errors.Errorf("drift weight must be positive, got %v", weight)
	}
	snapshot := make([]float64, NumPoseParams)
	copy(snapshot, original)
	return &PoseDriftCost{original: snapshot, weight: weight}, nil
}

// NumResiduals returns the number of residuals, one per pose value.
func (c *PoseDriftCost) NumResiduals() int {
	return NumPoseParams
}

// BlockSizes returns the parameter block layout: a single pose block.
func (c *PoseDriftCost) BlockSizes() []int {
	return []int{NumPoseParams}
}

// Evaluate fills one residual per pose value; all are zero exactly when the
// pose has not moved.
func (c *PoseDriftCost) Evaluate(blocks [][]float64, residuals []float64) bool {
	pose := blocks[0]
	for p := 0; p < NumPoseParams/2; p++ {
		residuals[p] = driftPositionScale * c.weight * (pose[p] - c.original[p])
	}
	for p := NumPoseParams / 2; p < NumPoseParams; p++ {
		residuals[p] = driftRotationScale * c.weight * (pose[p] - c.original[p])
	}
	return true
}

// RotTransDriftCost penalizes pose drift with independently chosen rotation
// and translation weights: a larger rotation weight yields less rotation
// change in the final result, and likewise for translation. Unlike
// PoseDriftCost there is no internal unit balancing and no bound on how large
// the penalty may grow, which gives finer grained but less forgiving control.
type RotTransDriftCost struct {
	original          []float64
	rotationWeight    float64
	translationWeight float64
}

// NewRotTransDriftCost snapshots the original pose. Weights must not be
// negative and at least one must be positive, otherwise the cost would be
// identically zero.
func NewRotTransDriftCost(original []float64, rotationWeight, translationWeight float64) (*RotTransDriftCost, error) {
	var err error
	if len(original) != NumPoseParams {
		err = multierr.Append(err, errors.Errorf("expected %d pose parameters, got %d", NumPoseParams, len(original)))
	}
	if rotationWeight < 0 || translationWeight < 0 {
		err = multierr.Append(err, errors.Errorf("drift weights must not be negative, got rotation %v, translation %v",
			rotationWeight, translationWeight))
	}
	if rotationWeight == 0 && translationWeight == 0 {
		err = multierr.Append(err, errors.New("at least one drift weight must be positive"))
	}
	if err != nil {
		return nil, err
	}
	snapshot := make([]float64, NumPoseParams)
	copy(snapshot, original)
	return &RotTransDriftCost{
		original:          snapshot,
		rotationWeight:    rotationWeight,
		translationWeight: translationWeight,
	}, nil
}

// NumResiduals returns the number of residuals, one per pose value.
func (c *RotTransDriftCost) NumResiduals() int {
	return NumPoseParams
}

// BlockSizes returns the parameter block layout: a single pose block.
func (c *RotTransDriftCost) BlockSizes() []int {
	return []int{NumPoseParams}
}

// Evaluate fills one residual per pose value: translation deltas scaled by
// the translation weight, rotation deltas scaled by the rotation weight.
func (c *RotTransDriftCost) Evaluate(blocks [][]float64, residuals []float64) bool {
	pose := blocks[0]
	for p := 0; p < NumPoseParams/2; p++ {
		residuals[p] = c.translationWeight * (pose[p] - c.original[p])
	}
	for p := NumPoseParams / 2; p < NumPoseParams; p++ {
		residuals[p] = c.rotationWeight * (pose[p] - c.original[p])
	}
	return true
}
