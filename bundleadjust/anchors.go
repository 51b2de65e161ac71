package bundleadjust

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/openterra/stereopipeline/geodesy"
)

// XYZAnchorCost ties an optimized 3D point to a fixed reference position.
// Residuals are the per axis Cartesian differences normalized by the per axis
// sigma in meters. Used for ground control points.
type XYZAnchorCost struct {
	reference r3.Vector
	sigma     r3.Vector
}

// NewXYZAnchorCost anchors a point block to reference with the given per axis
// confidence.
func NewXYZAnchorCost(reference, sigma r3.Vector) (*XYZAnchorCost, error) {
	if sigma.X <= 0 || sigma.Y <= 0 || sigma.Z <= 0 {
		return nil, errors.Errorf("anchor sigma must be positive on every axis, got (%v, %v, %v)",
			sigma.X, sigma.Y, sigma.Z)
	}
	return &XYZAnchorCost{reference: reference, sigma: sigma}, nil
}

// NumResiduals returns the number of residuals, one per Cartesian axis.
func (c *XYZAnchorCost) NumResiduals() int {
	return NumPointParams
}

// BlockSizes returns the parameter block layout: a single point block.
func (c *XYZAnchorCost) BlockSizes() []int {
	return []int{NumPointParams}
}

// Evaluate fills the three residuals. Input units are meters.
func (c *XYZAnchorCost) Evaluate(blocks [][]float64, residuals []float64) bool {
	point := blocks[0]
	residuals[0] = (point[0] - c.reference.X) / c.sigma.X
	residuals[1] = (point[1] - c.reference.Y) / c.sigma.Y
	residuals[2] = (point[2] - c.reference.Z) / c.sigma.Z
	return true
}

// LLHAnchorCost ties an optimized 3D point to a fixed reference position in
// geodetic coordinates on a shared datum. Unlike XYZAnchorCost the horizontal
// and vertical confidences separate cleanly: a control point with surveyed
// lon/lat but rough height gets a large height sigma without weakening the
// horizontal constraint.
type LLHAnchorCost struct {
	datum        geodesy.Datum
	referenceLLH geodesy.LLH
	sigma        r3.Vector
}

// NewLLHAnchorCost anchors a point block to the Cartesian reference,
// expressed geodetically on datum. Sigma is per geodetic axis in longitude,
// latitude, height order.
func NewLLHAnchorCost(reference r3.Vector, sigma r3.Vector, datum geodesy.Datum) (*LLHAnchorCost, error) {
	var err error
	if e := datum.CheckValid(); e != nil {
		err = multierr.Append(err, e)
	}
	if sigma.X <= 0 || sigma.Y <= 0 || sigma.Z <= 0 {
		err = multierr.Append(err, errors.Errorf("anchor sigma must be positive on every axis, got (%v, %v, %v)",
			sigma.X, sigma.Y, sigma.Z))
	}
	if err != nil {
		return nil, err
	}
	return &LLHAnchorCost{
		datum:        datum,
		referenceLLH: datum.CartesianToGeodetic(reference),
		sigma:        sigma,
	}, nil
}

// NumResiduals returns the number of residuals, one per geodetic axis.
func (c *LLHAnchorCost) NumResiduals() int {
	return NumPointParams
}

// BlockSizes returns the parameter block layout: a single point block.
func (c *LLHAnchorCost) BlockSizes() []int {
	return []int{NumPointParams}
}

// Evaluate converts the optimized point to geodetic coordinates and fills the
// three residuals in longitude, latitude, height order.
func (c *LLHAnchorCost) Evaluate(blocks [][]float64, residuals []float64) bool {
	point := r3.Vector{X: blocks[0][0], Y: blocks[0][1], Z: blocks[0][2]}
	llh := c.datum.CartesianToGeodetic(point)
	residuals[0] = (llh.Longitude - c.referenceLLH.Longitude) / c.sigma.X
	residuals[1] = (llh.Latitude - c.referenceLLH.Latitude) / c.sigma.Y
	residuals[2] = (llh.Height - c.referenceLLH.Height) / c.sigma.Z
	return true
}
