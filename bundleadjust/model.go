package bundleadjust

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/openterra/stereopipeline/camera"
	"github.com/openterra/stereopipeline/spatialmath"
)

// CameraModel unpacks solver parameter blocks into a working camera and
// projects a 3D point through it. The choice of parameterization is fixed at
// construction. Implementations are immutable and safe for concurrent use.
type CameraModel interface {
	// NumIntrinsicParams is the count of all camera parameters other than the
	// point and pose parameters. These can be spread out across multiple
	// parameter blocks.
	NumIntrinsicParams() int
	// NumParameterBlocks returns the number of solver parameter blocks.
	NumParameterBlocks() int
	// BlockSizes returns the size of each parameter block. The sizes sum to
	// NumParams. The first block is always the point block and the second
	// block is always the pose block.
	BlockSizes() []int
	// Evaluate reads all of the parameter blocks and projects the contained
	// point into the camera they describe. The returned error wraps
	// camera.ErrPointToPixel when the point does not project into the camera.
	Evaluate(blocks [][]float64) (r2.Point, error)
}

// AdjustedModel parameterizes a camera as a pose correction applied on top of
// a fixed base camera. Only the six correction values vary; the base camera,
// including any intrinsics it has, stays untouched.
type AdjustedModel struct {
	base camera.Model
}

// NewAdjustedModel returns a pose-only parameterization of the given base
// camera.
func NewAdjustedModel(base camera.Model) (*AdjustedModel, error) {
	if base == nil {
		return nil, errors.New("adjusted camera model needs a base camera")
	}
	return &AdjustedModel{base: base}, nil
}

// NumIntrinsicParams returns 0: this parameterization does not touch intrinsics.
func (m *AdjustedModel) NumIntrinsicParams() int {
	return 0
}

// NumParameterBlocks returns the number of solver parameter blocks: (point), (pose).
func (m *AdjustedModel) NumParameterBlocks() int {
	return 2
}

// BlockSizes returns the size of each parameter block.
func (m *AdjustedModel) BlockSizes() []int {
	return []int{NumPointParams, NumPoseParams}
}

// InitialPose returns a fresh pose block holding the zero correction, which
// reproduces the base camera exactly.
func (m *AdjustedModel) InitialPose() []float64 {
	return make([]float64, NumPoseParams)
}

// Evaluate decodes the pose block into a correction of the base camera and
// projects the point block through the corrected camera.
func (m *AdjustedModel) Evaluate(blocks [][]float64) (r2.Point, error) {
	if err := checkBlocks(m, blocks); err != nil {
		return r2.Point{}, err
	}
	point := r3.Vector{blocks[0][0], blocks[0][1], blocks[0][2]}
	adjustment, err := camera.AdjustmentFromParams(blocks[1])
	if err != nil {
		return r2.Point{}, err
	}
	cam := camera.Adjusted{Base: m.base, Adjustment: adjustment}
	return cam.PointToPixel(point)
}

// PinholeModel parameterizes every aspect of a pinhole camera: the pose block
// holds the camera's own position and orientation, and the remaining blocks
// hold multiplicative scale factors over the base camera's intrinsics, so all
// intrinsic parameters start near 1.0 regardless of their physical magnitude.
// Blocks a given run does not want to solve for should be held constant by
// the solver.
//
// A base intrinsic value of zero leaves its scale factor without effect: the
// scaled value stays zero no matter what the solver does to the scale.
type PinholeModel struct {
	base                *camera.Pinhole
	numDistortionParams int
}

// NewPinholeModel returns a full parameterization of the given pinhole
// camera. The camera must be valid and carry a distortion model with at least
// one parameter, since a zero length parameter block cannot be registered
// with a solver.
func NewPinholeModel(base *camera.Pinhole) (*PinholeModel, error) {
	if base == nil {
		return nil, errors.New("pinhole camera model needs a base camera")
	}
	if err := base.CheckValid(); err != nil {
		return nil, err
	}
	if base.Distortion == nil {
		return nil, errors.New("pinhole camera model needs a base distortion model to scale")
	}
	numDistortion := len(base.Distortion.Parameters())
	if numDistortion == 0 {
		return nil, errors.New("pinhole camera model needs at least one distortion parameter")
	}
	return &PinholeModel{base: base, numDistortionParams: numDistortion}, nil
}

// NumDistortionParams returns the number of lens distortion parameters.
func (m *PinholeModel) NumDistortionParams() int {
	return m.numDistortionParams
}

// NumIntrinsicParams returns the count of optical center, focus, and lens
// distortion parameters.
func (m *PinholeModel) NumIntrinsicParams() int {
	return 3 + m.numDistortionParams
}

// NumParameterBlocks returns the number of solver parameter blocks:
// (point), (pose), (center), (focus), (lens distortion).
func (m *PinholeModel) NumParameterBlocks() int {
	return 5
}

// BlockSizes returns the size of each parameter block.
func (m *PinholeModel) BlockSizes() []int {
	return []int{NumPointParams, NumPoseParams, 2, 1, m.numDistortionParams}
}

// InitialPose packs the base camera's own position and orientation into a
// fresh pose block.
func (m *PinholeModel) InitialPose() []float64 {
	aa := spatialmath.QuatToR3AA(m.base.Rotation)
	c := m.base.Position
	return []float64{c.X, c.Y, c.Z, aa.X, aa.Y, aa.Z}
}

// InitialIntrinsics returns fresh unit scale blocks for the optical center,
// focus, and lens distortion. Together with InitialPose they reproduce the
// base camera exactly.
func (m *PinholeModel) InitialIntrinsics() (center, focus, distortion []float64) {
	center = []float64{1, 1}
	focus = []float64{1}
	distortion = make([]float64, m.numDistortionParams)
	for i := range distortion {
		distortion[i] = 1
	}
	return center, focus, distortion
}

// Evaluate builds a transient camera from the pose block and the scaled
// intrinsics and projects the point block through it.
func (m *PinholeModel) Evaluate(blocks [][]float64) (r2.Point, error) {
	if err := checkBlocks(m, blocks); err != nil {
		return r2.Point{}, err
	}
	point := r3.Vector{blocks[0][0], blocks[0][1], blocks[0][2]}
	rawPose := blocks[1]
	rawCenter := blocks[2]
	rawFocus := blocks[3]
	rawLens := blocks[4]

	position := r3.Vector{rawPose[0], rawPose[1], rawPose[2]}
	rotation := spatialmath.R3ToR4(r3.Vector{rawPose[3], rawPose[4], rawPose[5]}).ToQuat()

	// Intrinsics are solved as scale factors, so multiply them by the original
	// values to get the updated values. The single focus scale preserves the
	// base camera's aspect ratio.
	intrinsics := m.base.Intrinsics
	intrinsics.Ppx *= rawCenter[0]
	intrinsics.Ppy *= rawCenter[1]
	intrinsics.Fx *= rawFocus[0]
	intrinsics.Fy *= rawFocus[0]

	baseLens := m.base.Distortion.Parameters()
	scaledLens := make([]float64, m.numDistortionParams)
	for i := range scaledLens {
		scaledLens[i] = baseLens[i] * rawLens[i]
	}
	distortion, err := camera.NewDistorter(m.base.Distortion.ModelType(), scaledLens)
	if err != nil {
		return r2.Point{}, err
	}

	cam := camera.Pinhole{
		Position:   position,
		Rotation:   rotation,
		Intrinsics: intrinsics,
		Distortion: distortion,
	}
	return cam.PointToPixel(point)
}
