// Package geodesy converts between Cartesian body-fixed coordinates and
// geodetic coordinates on a reference ellipsoid.
package geodesy

import (
	"math"

	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"

	"github.com/openterra/stereopipeline/utils"
)

// Datum is a reference ellipsoid for a planetary body. Axes are in meters.
type Datum struct {
	Name          string
	SemiMajorAxis float64
	SemiMinorAxis float64
}

// Reference spheroids accepted by the point cloud and adjustment tools.
var (
	WGS84 = Datum{"WGS_1984", 6378137.0, 6356752.314245}
	GRS80 = Datum{"GRS_1980", 6378137.0, 6356752.314140}
	DMoon = Datum{"D_MOON", 1737400.0, 1737400.0}
	DMars = Datum{"D_MARS", 3396190.0, 3396190.0}
)

// CheckValid checks if the fields for Datum have valid inputs.
func (d Datum) CheckValid() error {
	if d.SemiMajorAxis <= 0 || d.SemiMinorAxis <= 0 {
		return errors.Errorf("datum %q axes must be positive, got (%v, %v)", d.Name, d.SemiMajorAxis, d.SemiMinorAxis)
	}
	if d.SemiMinorAxis > d.SemiMajorAxis {
		return errors.Errorf("datum %q semi-minor axis %v exceeds semi-major axis %v",
			d.Name, d.SemiMinorAxis, d.SemiMajorAxis)
	}
	return nil
}

// LLH is a geodetic position: longitude and latitude in degrees, height in
// meters above the ellipsoid.
type LLH struct {
	Longitude float64
	Latitude  float64
	Height    float64
}

// GeoPoint returns the horizontal position as a geo.Point for interop with
// geospatial tooling.
func (l LLH) GeoPoint() *geo.Point {
	return geo.NewPoint(l.Latitude, l.Longitude)
}

// SurfaceDistance returns the approximate great circle distance in meters
// between the horizontal positions of two geodetic points. The underlying
// great circle math assumes an Earth sized sphere, so this is a diagnostic
// aid rather than survey grade geodesy.
func SurfaceDistance(a, b LLH) float64 {
	return a.GeoPoint().GreatCircleDistance(b.GeoPoint()) * 1000
}

// GeodeticToCartesian converts a geodetic position to Cartesian body-fixed
// coordinates in meters.
func (d Datum) GeodeticToCartesian(llh LLH) r3.Vector {
	a := d.SemiMajorAxis
	b := d.SemiMinorAxis
	e2 := (utils.Square(a) - utils.Square(b)) / utils.Square(a)

	lat := utils.DegToRad(llh.Latitude)
	lon := utils.DegToRad(llh.Longitude)
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := a / math.Sqrt(1-e2*utils.Square(sinLat))
	return r3.Vector{
		X: (n + llh.Height) * cosLat * math.Cos(lon),
		Y: (n + llh.Height) * cosLat * math.Sin(lon),
		Z: (n*(1-e2) + llh.Height) * sinLat,
	}
}

// CartesianToGeodetic converts Cartesian body-fixed coordinates in meters to a
// geodetic position using Bowring's method with fixed point refinement.
func (d Datum) CartesianToGeodetic(pt r3.Vector) LLH {
	a := d.SemiMajorAxis
	b := d.SemiMinorAxis
	e2 := (utils.Square(a) - utils.Square(b)) / utils.Square(a)
	ep2 := (utils.Square(a) - utils.Square(b)) / utils.Square(b)

	lon := math.Atan2(pt.Y, pt.X)
	p := math.Hypot(pt.X, pt.Y)

	// on the polar axis the longitude is arbitrary and the latitude is a pole
	if p < 1e-9 {
		lat := math.Pi / 2
		if pt.Z < 0 {
			lat = -math.Pi / 2
		}
		return LLH{utils.RadToDeg(lon), utils.RadToDeg(lat), math.Abs(pt.Z) - b}
	}

	beta := math.Atan2(a*pt.Z, b*p)
	var lat float64
	for i := 0; i < 3; i++ {
		sinB, cosB := math.Sin(beta), math.Cos(beta)
		lat = math.Atan2(pt.Z+ep2*b*sinB*sinB*sinB, p-e2*a*cosB*cosB*cosB)
		beta = math.Atan2(b*math.Sin(lat), a*math.Cos(lat))
	}

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := a / math.Sqrt(1-e2*utils.Square(sinLat))
	var height float64
	if math.Abs(cosLat) > 1e-10 {
		height = p/cosLat - n
	} else {
		height = math.Abs(pt.Z) - b
	}
	return LLH{utils.RadToDeg(lon), utils.RadToDeg(lat), height}
}
