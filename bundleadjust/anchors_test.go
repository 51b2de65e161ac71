package bundleadjust

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/openterra/stereopipeline/geodesy"
)

func TestXYZAnchorResiduals(t *testing.T) {
	cost, err := NewXYZAnchorCost(r3.Vector{100, 200, 300}, r3.Vector{1, 2, 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cost.NumResiduals(), test.ShouldEqual, 3)
	test.That(t, cost.BlockSizes(), test.ShouldResemble, []int{NumPointParams})

	residuals := make([]float64, 3)
	test.That(t, cost.Evaluate([][]float64{{100, 200, 300}}, residuals), test.ShouldBeTrue)
	test.That(t, residuals[0], test.ShouldAlmostEqual, 0)
	test.That(t, residuals[1], test.ShouldAlmostEqual, 0)
	test.That(t, residuals[2], test.ShouldAlmostEqual, 0)

	test.That(t, cost.Evaluate([][]float64{{101, 198, 308}}, residuals), test.ShouldBeTrue)
	test.That(t, residuals[0], test.ShouldAlmostEqual, 1)
	test.That(t, residuals[1], test.ShouldAlmostEqual, -1)
	test.That(t, residuals[2], test.ShouldAlmostEqual, 2)
}

func TestNewXYZAnchorValidation(t *testing.T) {
	_, err := NewXYZAnchorCost(r3.Vector{}, r3.Vector{1, 0, 1})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewXYZAnchorCost(r3.Vector{}, r3.Vector{1, 1, -1})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLLHAnchorZeroAtReference(t *testing.T) {
	ref := geodesy.WGS84.GeodeticToCartesian(geodesy.LLH{Longitude: -122.4, Latitude: 37.8, Height: 15})
	cost, err := NewLLHAnchorCost(ref, r3.Vector{1e-6, 1e-6, 1}, geodesy.WGS84)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cost.NumResiduals(), test.ShouldEqual, 3)
	test.That(t, cost.BlockSizes(), test.ShouldResemble, []int{NumPointParams})

	residuals := make([]float64, 3)
	test.That(t, cost.Evaluate([][]float64{{ref.X, ref.Y, ref.Z}}, residuals), test.ShouldBeTrue)
	test.That(t, residuals[0], test.ShouldAlmostEqual, 0, 1e-5)
	test.That(t, residuals[1], test.ShouldAlmostEqual, 0, 1e-5)
	test.That(t, residuals[2], test.ShouldAlmostEqual, 0, 1e-5)
}

func TestLLHAnchorAxisOrder(t *testing.T) {
	ref := geodesy.WGS84.GeodeticToCartesian(geodesy.LLH{Longitude: -122.4, Latitude: 37.8, Height: 15})

	// 100 meters straight up only moves the height residual
	cost, err := NewLLHAnchorCost(ref, r3.Vector{1, 1, 1}, geodesy.WGS84)
	test.That(t, err, test.ShouldBeNil)
	up := geodesy.WGS84.GeodeticToCartesian(geodesy.LLH{Longitude: -122.4, Latitude: 37.8, Height: 115})
	residuals := make([]float64, 3)
	test.That(t, cost.Evaluate([][]float64{{up.X, up.Y, up.Z}}, residuals), test.ShouldBeTrue)
	test.That(t, residuals[0], test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, residuals[1], test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, residuals[2], test.ShouldAlmostEqual, 100, 1e-3)

	// a pure longitude shift only moves the longitude residual, divided by
	// its own sigma
	cost, err = NewLLHAnchorCost(ref, r3.Vector{1e-3, 1, 1}, geodesy.WGS84)
	test.That(t, err, test.ShouldBeNil)
	east := geodesy.WGS84.GeodeticToCartesian(geodesy.LLH{Longitude: -122.399, Latitude: 37.8, Height: 15})
	test.That(t, cost.Evaluate([][]float64{{east.X, east.Y, east.Z}}, residuals), test.ShouldBeTrue)
	test.That(t, residuals[0], test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, residuals[1], test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, residuals[2], test.ShouldAlmostEqual, 0, 1e-3)
}

func TestLLHAnchorMatchesXYZForRadialShift(t *testing.T) {
	// on the equator at the prime meridian a +X displacement is purely
	// height, so the geodetic residual reduces to the Cartesian one
	ref := geodesy.WGS84.GeodeticToCartesian(geodesy.LLH{})
	xyz, err := NewXYZAnchorCost(ref, r3.Vector{2, 2, 2})
	test.That(t, err, test.ShouldBeNil)
	llh, err := NewLLHAnchorCost(ref, r3.Vector{1, 1, 2}, geodesy.WGS84)
	test.That(t, err, test.ShouldBeNil)

	point := [][]float64{{ref.X + 5, ref.Y, ref.Z}}
	xyzResiduals := make([]float64, 3)
	llhResiduals := make([]float64, 3)
	test.That(t, xyz.Evaluate(point, xyzResiduals), test.ShouldBeTrue)
	test.That(t, llh.Evaluate(point, llhResiduals), test.ShouldBeTrue)

	test.That(t, xyzResiduals[0], test.ShouldAlmostEqual, 2.5)
	test.That(t, llhResiduals[2], test.ShouldAlmostEqual, xyzResiduals[0], 1e-9)
	test.That(t, llhResiduals[0], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, llhResiduals[1], test.ShouldAlmostEqual, 0, 1e-9)
}

func TestNewLLHAnchorValidation(t *testing.T) {
	ref := geodesy.WGS84.GeodeticToCartesian(geodesy.LLH{Longitude: 10, Latitude: 20})

	_, err := NewLLHAnchorCost(ref, r3.Vector{0, 1, 1}, geodesy.WGS84)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewLLHAnchorCost(ref, r3.Vector{1, 1, 1}, geodesy.Datum{})
	test.That(t, err, test.ShouldNotBeNil)

	// both problems are reported together
	_, err = NewLLHAnchorCost(ref, r3.Vector{-1, 1, 1}, geodesy.Datum{Name: "flat"})
	test.That(t, err, test.ShouldNotBeNil)
}
