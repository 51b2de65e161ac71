// Package disparity provides bounds checked, sub pixel sampling of stereo
// disparity fields. A disparity field stores, per pixel of the left image, the
// displacement to the corresponding pixel in the right image, along with a
// validity mask for pixels where stereo correlation failed.
package disparity

import (
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Sampler yields disparity displacements at sub pixel image positions.
// Implementations must be safe for concurrent readers.
type Sampler interface {
	// InBounds reports whether the position lies inside the sampled footprint.
	InBounds(px r2.Point) bool
	// Sample returns the interpolated displacement at px. The boolean is false
	// when px is out of bounds or any pixel contributing to the interpolation
	// is masked invalid.
	Sample(px r2.Point) (r2.Point, bool)
}

type grid interface {
	Width() int
	Height() int
	Get(x, y int) (r2.Point, bool)
}

func gridInBounds(g grid, px r2.Point) bool {
	return px.X >= 0 && px.Y >= 0 && px.X <= float64(g.Width()-1) && px.Y <= float64(g.Height()-1)
}

// sampleGrid bilinearly interpolates the four pixels around px. Pixels with a
// zero interpolation weight do not participate, so samples taken exactly on a
// pixel depend only on that pixel.
func sampleGrid(g grid, px r2.Point) (r2.Point, bool) {
	if !gridInBounds(g, px) {
		return r2.Point{}, false
	}
	x0 := int(math.Floor(px.X))
	y0 := int(math.Floor(px.Y))
	fx := px.X - float64(x0)
	fy := px.Y - float64(y0)
	x1, y1 := x0, y0
	if fx > 0 {
		x1 = x0 + 1
	}
	if fy > 0 {
		y1 = y0 + 1
	}

	d00, ok := g.Get(x0, y0)
	if !ok {
		return r2.Point{}, false
	}
	d10, ok := g.Get(x1, y0)
	if !ok {
		return r2.Point{}, false
	}
	d01, ok := g.Get(x0, y1)
	if !ok {
		return r2.Point{}, false
	}
	d11, ok := g.Get(x1, y1)
	if !ok {
		return r2.Point{}, false
	}

	w00 := (1 - fx) * (1 - fy)
	w10 := fx * (1 - fy)
	w01 := (1 - fx) * fy
	w11 := fx * fy
	return r2.Point{
		X: w00*d00.X + w10*d10.X + w01*d01.X + w11*d11.X,
		Y: w00*d00.Y + w10*d10.Y + w01*d01.Y + w11*d11.Y,
	}, true
}

// Field is a dense disparity field with a per pixel validity mask. The zero
// field is empty; use NewField.
type Field struct {
	width  int
	height int
	data   []r2.Point
	valid  []bool
}

// NewField returns a field of the given dimensions with every pixel masked
// invalid.
func NewField(width, height int) (*Field, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("disparity field dimensions must be positive, got (%d, %d)", width, height)
	}
	return &Field{
		width:  width,
		height: height,
		data:   make([]r2.Point, width*height),
		valid:  make([]bool, width*height),
	}, nil
}

func (f *Field) kxy(x, y int) int {
	return (y * f.width) + x
}

// Width returns the width of the field in pixels.
func (f *Field) Width() int {
	return f.width
}

// Height returns the height of the field in pixels.
func (f *Field) Height() int {
	return f.height
}

// Set stores the displacement for pixel (x, y) and marks it valid.
func (f *Field) Set(x, y int, disp r2.Point) {
	k := f.kxy(x, y)
	f.data[k] = disp
	f.valid[k] = true
}

// SetInvalid masks pixel (x, y) as holding no usable disparity.
func (f *Field) SetInvalid(x, y int) {
	k := f.kxy(x, y)
	f.data[k] = r2.Point{}
	f.valid[k] = false
}

// Get returns the displacement stored at pixel (x, y) and whether it is valid.
func (f *Field) Get(x, y int) (r2.Point, bool) {
	k := f.kxy(x, y)
	return f.data[k], f.valid[k]
}

// InBounds reports whether the position lies inside the field.
func (f *Field) InBounds(px r2.Point) bool {
	return gridInBounds(f, px)
}

// Sample bilinearly interpolates the displacement at px.
func (f *Field) Sample(px r2.Point) (r2.Point, bool) {
	return sampleGrid(f, px)
}

// LazyField evaluates disparities on demand and memoizes the results,
// mirroring lazily rasterized disparity views: only the pixels a consumer
// touches are ever computed. Safe for concurrent readers. Under concurrent
// access eval may run more than once for the same pixel, so it must be pure.
type LazyField struct {
	width  int
	height int
	eval   func(x, y int) (r2.Point, bool)

	mu   sync.RWMutex
	memo map[int]lazyCell
}

type lazyCell struct {
	disp  r2.Point
	valid bool
}

// NewLazyField returns a lazily evaluated field of the given dimensions backed
// by eval.
func NewLazyField(width, height int, eval func(x, y int) (r2.Point, bool)) (*LazyField, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("disparity field dimensions must be positive, got (%d, %d)", width, height)
	}
	if eval == nil {
		return nil, errors.New("lazy disparity field needs an eval function")
	}
	return &LazyField{
		width:  width,
		height: height,
		eval:   eval,
		memo:   map[int]lazyCell{},
	}, nil
}

// Width returns the width of the field in pixels.
func (l *LazyField) Width() int {
	return l.width
}

// Height returns the height of the field in pixels.
func (l *LazyField) Height() int {
	return l.height
}

// Get returns the displacement at pixel (x, y), evaluating and memoizing it on
// first use.
func (l *LazyField) Get(x, y int) (r2.Point, bool) {
	k := (y * l.width) + x
	l.mu.RLock()
	cell, ok := l.memo[k]
	l.mu.RUnlock()
	if !ok {
		cell.disp, cell.valid = l.eval(x, y)
		l.mu.Lock()
		l.memo[k] = cell
		l.mu.Unlock()
	}
	return cell.disp, cell.valid
}

// InBounds reports whether the position lies inside the field.
func (l *LazyField) InBounds(px r2.Point) bool {
	return gridInBounds(l, px)
}

// Sample bilinearly interpolates the displacement at px.
func (l *LazyField) Sample(px r2.Point) (r2.Point, bool) {
	return sampleGrid(l, px)
}
