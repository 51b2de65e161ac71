package camera

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/openterra/stereopipeline/spatialmath"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// Intrinsics holds the parameters necessary to do a perspective projection of a
// 3D scene to the 2D image plane. Focal lengths and the principal point are in
// the same physical units as PixelPitch; with PixelPitch 1 they are in pixels.
type Intrinsics struct {
	Fx         float64 `json:"fx"`
	Fy         float64 `json:"fy"`
	Ppx        float64 `json:"ppx"`
	Ppy        float64 `json:"ppy"`
	PixelPitch float64 `json:"pixel_pitch"`
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (params *Intrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.PixelPitch <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid pixel pitch = %#v", params.PixelPitch))
	}
	return nil
}

// CameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *Intrinsics) CameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// Pinhole is a perspective camera at a pose in world coordinates. Position is
// the camera center, Rotation takes camera frame vectors to world frame
// vectors, and the camera looks down its +Z axis. Distortion may be nil for an
// ideal lens.
type Pinhole struct {
	Position   r3.Vector
	Rotation   quat.Number
	Intrinsics Intrinsics
	Distortion Distorter
}

// CheckValid checks if the fields for Pinhole have valid inputs.
func (p *Pinhole) CheckValid() error {
	if p == nil {
		return errors.New("pinhole camera is nil")
	}
	if err := p.Intrinsics.CheckValid(); err != nil {
		return err
	}
	length := math.Sqrt(p.Rotation.Real*p.Rotation.Real +
		p.Rotation.Imag*p.Rotation.Imag + p.Rotation.Jmag*p.Rotation.Jmag + p.Rotation.Kmag*p.Rotation.Kmag)
	if math.Abs(length-1.0) > 1e-6 {
		return errors.Errorf("camera rotation quaternion is not unit length, got %v", length)
	}
	if p.Distortion != nil {
		return p.Distortion.CheckValid()
	}
	return nil
}

// PointToPixel projects a 3D point in world coordinates to a pixel in the
// image plane.
func (p *Pinhole) PointToPixel(pt r3.Vector) (r2.Point, error) {
	cam := spatialmath.QuatRotateVector(quat.Conj(p.Rotation), pt.Sub(p.Position))
	if cam.Z <= 0 {
		return r2.Point{}, NewPointToPixelError(fmt.Sprintf("point (%v, %v, %v) is behind the camera", pt.X, pt.Y, pt.Z))
	}
	x := cam.X / cam.Z
	y := cam.Y / cam.Z
	if p.Distortion != nil {
		x, y = p.Distortion.Transform(x, y)
	}
	px := (p.Intrinsics.Fx*x + p.Intrinsics.Ppx) / p.Intrinsics.PixelPitch
	py := (p.Intrinsics.Fy*y + p.Intrinsics.Ppy) / p.Intrinsics.PixelPitch
	if math.IsNaN(px) || math.IsInf(px, 0) || math.IsNaN(py) || math.IsInf(py, 0) {
		return r2.Point{}, NewPointToPixelError("projected pixel is not finite")
	}
	return r2.Point{X: px, Y: py}, nil
}

// Center returns the camera center in world coordinates.
func (p *Pinhole) Center() r3.Vector {
	return p.Position
}
