package bundleadjust

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/openterra/stereopipeline/camera"
	"github.com/openterra/stereopipeline/spatialmath"
)

// testBaseCamera is a distortion free pinhole at the origin looking down +Z.
func testBaseCamera() *camera.Pinhole {
	return &camera.Pinhole{
		Rotation:   quat.Number{Real: 1},
		Intrinsics: camera.Intrinsics{Fx: 1000, Fy: 1000, Ppx: 500, Ppy: 500, PixelPitch: 1},
	}
}

// testFullCamera has a nontrivial pose, unequal focal lengths, and a lens
// model, so every parameter block has something to act on.
func testFullCamera() *camera.Pinhole {
	return &camera.Pinhole{
		Position:   r3.Vector{10, -20, 5},
		Rotation:   (&spatialmath.R4AA{Theta: 0.25, RX: 1, RY: 2, RZ: 2}).ToQuat(),
		Intrinsics: camera.Intrinsics{Fx: 1200, Fy: 1000, Ppx: 640, Ppy: 480, PixelPitch: 1},
		Distortion: &camera.BrownConrady{RadialK1: 0.01, RadialK2: -0.002, TangentialP1: 0.001},
	}
}

func pointBlock(pt r3.Vector) []float64 {
	return []float64{pt.X, pt.Y, pt.Z}
}

func TestAdjustedModelLayout(t *testing.T) {
	model, err := NewAdjustedModel(testBaseCamera())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.NumIntrinsicParams(), test.ShouldEqual, 0)
	test.That(t, model.NumParameterBlocks(), test.ShouldEqual, 2)
	test.That(t, model.BlockSizes(), test.ShouldResemble, []int{3, 6})
	test.That(t, NumParams(model), test.ShouldEqual, 9)
	test.That(t, model.InitialPose(), test.ShouldResemble, make([]float64, NumPoseParams))
}

func TestAdjustedModelZeroPose(t *testing.T) {
	base := &camera.Pinhole{
		Position:   r3.Vector{5, -3, 2},
		Rotation:   (&spatialmath.R4AA{Theta: 0.2, RX: 1, RY: 1}).ToQuat(),
		Intrinsics: camera.Intrinsics{Fx: 1000, Fy: 1000, Ppx: 500, Ppy: 500, PixelPitch: 1},
	}
	model, err := NewAdjustedModel(base)
	test.That(t, err, test.ShouldBeNil)

	// a zero correction must reproduce the base camera exactly
	for _, pt := range []r3.Vector{{6, -2, 12}, {4.5, -3.5, 9}, {5, -3, 20}} {
		want, err := base.PointToPixel(pt)
		test.That(t, err, test.ShouldBeNil)
		got, err := model.Evaluate([][]float64{pointBlock(pt), model.InitialPose()})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.X, test.ShouldAlmostEqual, want.X, 1e-9)
		test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, 1e-9)
	}
}

func TestAdjustedModelTranslation(t *testing.T) {
	model, err := NewAdjustedModel(testBaseCamera())
	test.That(t, err, test.ShouldBeNil)

	// moving the camera +1 along X shifts which world point lands on the
	// principal point
	pose := []float64{1, 0, 0, 0, 0, 0}
	px, err := model.Evaluate([][]float64{{1, 0, 10}, pose})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldAlmostEqual, 500)
	test.That(t, px.Y, test.ShouldAlmostEqual, 500)
}

func TestAdjustedModelBadBlocks(t *testing.T) {
	model, err := NewAdjustedModel(testBaseCamera())
	test.That(t, err, test.ShouldBeNil)

	_, err = model.Evaluate([][]float64{{0, 0, 10}})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = model.Evaluate([][]float64{{0, 0, 10}, {0, 0, 0}})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = model.Evaluate([][]float64{{0, 0, -10}, make([]float64, NumPoseParams)})
	test.That(t, errors.Is(err, camera.ErrPointToPixel), test.ShouldBeTrue)
}

func TestNewAdjustedModelValidation(t *testing.T) {
	_, err := NewAdjustedModel(nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPinholeModelLayout(t *testing.T) {
	model, err := NewPinholeModel(testFullCamera())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.NumDistortionParams(), test.ShouldEqual, 5)
	test.That(t, model.NumIntrinsicParams(), test.ShouldEqual, 8)
	test.That(t, model.NumParameterBlocks(), test.ShouldEqual, 5)
	test.That(t, model.BlockSizes(), test.ShouldResemble, []int{3, 6, 2, 1, 5})
	test.That(t, NumParams(model), test.ShouldEqual, 17)
}

func TestPinholeModelUnitScales(t *testing.T) {
	base := testFullCamera()
	model, err := NewPinholeModel(base)
	test.That(t, err, test.ShouldBeNil)

	center, focus, lens := model.InitialIntrinsics()
	test.That(t, center, test.ShouldResemble, []float64{1, 1})
	test.That(t, focus, test.ShouldResemble, []float64{1})
	test.That(t, lens, test.ShouldResemble, []float64{1, 1, 1, 1, 1})

	// all scale factors at 1.0 with the packed base pose must reproduce the
	// base camera's own projection
	for _, pt := range []r3.Vector{{11, -19, 15}, {9.5, -20.5, 12}, {10, -20, 25}} {
		want, err := base.PointToPixel(pt)
		test.That(t, err, test.ShouldBeNil)
		got, err := model.Evaluate([][]float64{pointBlock(pt), model.InitialPose(), center, focus, lens})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.X, test.ShouldAlmostEqual, want.X, 1e-6)
		test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, 1e-6)
	}
}

func TestPinholeModelFocusScale(t *testing.T) {
	base := &camera.Pinhole{
		Rotation:   quat.Number{Real: 1},
		Intrinsics: camera.Intrinsics{Fx: 1000, Fy: 800, Ppx: 500, Ppy: 400, PixelPitch: 1},
		Distortion: &camera.BrownConrady{},
	}
	model, err := NewPinholeModel(base)
	test.That(t, err, test.ShouldBeNil)

	center, _, lens := model.InitialIntrinsics()
	px, err := model.Evaluate([][]float64{{1, 2, 10}, model.InitialPose(), center, []float64{2}, lens})
	test.That(t, err, test.ShouldBeNil)
	// the one focus scale doubles both axes, preserving the aspect ratio
	test.That(t, px.X, test.ShouldAlmostEqual, 2*1000*0.1+500)
	test.That(t, px.Y, test.ShouldAlmostEqual, 2*800*0.2+400)
}

func TestPinholeModelCenterScale(t *testing.T) {
	base := &camera.Pinhole{
		Rotation:   quat.Number{Real: 1},
		Intrinsics: camera.Intrinsics{Fx: 1000, Fy: 800, Ppx: 500, Ppy: 400, PixelPitch: 1},
		Distortion: &camera.BrownConrady{},
	}
	model, err := NewPinholeModel(base)
	test.That(t, err, test.ShouldBeNil)

	_, focus, lens := model.InitialIntrinsics()
	px, err := model.Evaluate([][]float64{{1, 2, 10}, model.InitialPose(), []float64{1.2, 0.5}, focus, lens})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldAlmostEqual, 1000*0.1+1.2*500)
	test.That(t, px.Y, test.ShouldAlmostEqual, 800*0.2+0.5*400)
}

func TestPinholeModelDistortionScale(t *testing.T) {
	base := &camera.Pinhole{
		Rotation:   quat.Number{Real: 1},
		Intrinsics: camera.Intrinsics{Fx: 1000, Fy: 1000, Ppx: 500, Ppy: 500, PixelPitch: 1},
		Distortion: &camera.BrownConrady{RadialK1: 0.1},
	}
	model, err := NewPinholeModel(base)
	test.That(t, err, test.ShouldBeNil)

	center, focus, lens := model.InitialIntrinsics()
	px, err := model.Evaluate([][]float64{{1, 0, 10}, model.InitialPose(), center, focus, lens})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldAlmostEqual, 1000*0.1*(1+0.1*0.01)+500)

	// doubling the k1 scale doubles the radial term
	lens[0] = 2
	px, err = model.Evaluate([][]float64{{1, 0, 10}, model.InitialPose(), center, focus, lens})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldAlmostEqual, 1000*0.1*(1+0.2*0.01)+500)
}

func TestPinholeModelZeroBaseIntrinsic(t *testing.T) {
	// a base value of zero cannot be scaled into anything else
	base := &camera.Pinhole{
		Rotation:   quat.Number{Real: 1},
		Intrinsics: camera.Intrinsics{Fx: 1000, Fy: 1000, Ppx: 0, Ppy: 500, PixelPitch: 1},
		Distortion: &camera.BrownConrady{},
	}
	model, err := NewPinholeModel(base)
	test.That(t, err, test.ShouldBeNil)

	_, focus, lens := model.InitialIntrinsics()
	unit, err := model.Evaluate([][]float64{{1, 2, 10}, model.InitialPose(), []float64{1, 1}, focus, lens})
	test.That(t, err, test.ShouldBeNil)
	scaled, err := model.Evaluate([][]float64{{1, 2, 10}, model.InitialPose(), []float64{7, 1}, focus, lens})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scaled.X, test.ShouldEqual, unit.X)
	test.That(t, scaled.Y, test.ShouldEqual, unit.Y)
}

type emptyDistortion struct{}

func (emptyDistortion) ModelType() camera.DistortionType          { return "empty" }
func (emptyDistortion) CheckValid() error                         { return nil }
func (emptyDistortion) Parameters() []float64                     { return nil }
func (emptyDistortion) Transform(x, y float64) (float64, float64) { return x, y }

func TestNewPinholeModelValidation(t *testing.T) {
	_, err := NewPinholeModel(nil)
	test.That(t, err, test.ShouldNotBeNil)

	invalid := testFullCamera()
	invalid.Intrinsics.Fx = 0
	_, err = NewPinholeModel(invalid)
	test.That(t, err, test.ShouldNotBeNil)

	bare := testFullCamera()
	bare.Distortion = nil
	_, err = NewPinholeModel(bare)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "distortion")

	empty := testFullCamera()
	empty.Distortion = emptyDistortion{}
	_, err = NewPinholeModel(empty)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "at least one")
}

func TestPinholeModelBadBlocks(t *testing.T) {
	model, err := NewPinholeModel(testFullCamera())
	test.That(t, err, test.ShouldBeNil)

	_, err = model.Evaluate([][]float64{{0, 0, 10}, make([]float64, NumPoseParams)})
	test.That(t, err, test.ShouldNotBeNil)

	center, focus, lens := model.InitialIntrinsics()
	_, err = model.Evaluate([][]float64{{10, -20, -50}, model.InitialPose(), center, focus, lens})
	test.That(t, errors.Is(err, camera.ErrPointToPixel), test.ShouldBeTrue)
}

func TestPinholeModelInitialPose(t *testing.T) {
	base := testFullCamera()
	model, err := NewPinholeModel(base)
	test.That(t, err, test.ShouldBeNil)

	pose := model.InitialPose()
	test.That(t, pose[0], test.ShouldAlmostEqual, base.Position.X)
	test.That(t, pose[1], test.ShouldAlmostEqual, base.Position.Y)
	test.That(t, pose[2], test.ShouldAlmostEqual, base.Position.Z)
	aa := r3.Vector{pose[3], pose[4], pose[5]}
	test.That(t, aa.Norm(), test.ShouldAlmostEqual, 0.25, 1e-9)
	test.That(t, math.Abs(spatialmath.R3ToR4(aa).ToQuat().Real-base.Rotation.Real), test.ShouldBeLessThan, 1e-12)
}
