// thermal-streamer - stream calibrated thermal video from an MLX90640 camera
//  Copyright (C) 2020, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package render draws temperature frames onto an RGB565 canvas, scaling
// the 16x24 cells of a subpage up with bilinear interpolation.
package render

import (
	"errors"
	"fmt"
	"sync"

	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
)

const (
	DefaultLower = 20.0
	DefaultUpper = 40.0

	gridW = mlx90640.CellsWide
	gridH = mlx90640.Rows
)

// Options control how temperatures are coloured.
type Options struct {
	Palette   string
	AutoRange bool
	// Lower and Upper are the fixed range in degrees, used when AutoRange
	// is off.
	Lower float64
	Upper float64
}

func DefaultOptions() Options {
	return Options{
		Palette:   DefaultPalette,
		AutoRange: true,
		Lower:     DefaultLower,
		Upper:     DefaultUpper,
	}
}

func (o Options) Validate() error {
	if _, err := PaletteByName(o.Palette); err != nil {
		return err
	}
	if o.Lower >= o.Upper {
		return fmt.Errorf("range lower %.1f must be below upper %.1f", o.Lower, o.Upper)
	}
	return nil
}

// Renderer keeps the colour range between frames. Update and the draw
// methods are called by one goroutine; SetOptions may be called from any.
type Renderer struct {
	width, height int
	xs            []axisStep
	ys            []axisStep

	mu      sync.Mutex
	palette *Palette
	opts    Options

	rangeSet bool
	low      smoother
	high     smoother
	lower    int32
	upper    int32
}

// axisStep locates a canvas column or row between two grid points, with
// the weight of the second one out of 256.
type axisStep struct {
	i0, i1 int
	w      int32
}

func New(width, height int, opts Options) (*Renderer, error) {
	if width < 1 || height < 1 {
		return nil, errors.New("canvas size must be positive")
	}
	r := &Renderer{
		width:  width,
		height: height,
		xs:     axisSteps(width, gridW),
		ys:     axisSteps(height, gridH),
	}
	if err := r.SetOptions(opts); err != nil {
		return nil, err
	}
	return r, nil
}

// axisSteps samples n grid points at the centres of size canvas pixels.
func axisSteps(size, n int) []axisStep {
	steps := make([]axisStep, size)
	limit := int32(n-1) << 8
	for i := range steps {
		// grid coordinate in 1/256ths: (i + 0.5) * n / size - 0.5
		f := int32((2*i+1)*n*128/size) - 128
		f = max(0, min(f, limit))
		i0 := int(f >> 8)
		steps[i] = axisStep{i0: i0, i1: min(i0+1, n-1), w: f & 0xFF}
	}
	return steps
}

func (r *Renderer) Size() (int, int) {
	return r.width, r.height
}

// SetOptions switches palette and range. Turning the auto range on starts
// it again from the next frame, with the fixed range until then.
func (r *Renderer) SetOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	p, _ := PaletteByName(opts.Palette)

	r.mu.Lock()
	defer r.mu.Unlock()
	if opts.AutoRange && !r.opts.AutoRange {
		r.rangeSet = false
	}
	r.opts = opts
	r.palette = p
	if !opts.AutoRange || !r.rangeSet {
		r.lower = int32(mlx90640.FromCelsius(opts.Lower))
		r.upper = int32(mlx90640.FromCelsius(opts.Upper))
	}
	return nil
}

func (r *Renderer) Options() Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts
}

// Range returns the temperatures mapped to the bottom and top of the
// palette.
func (r *Renderer) Range() (lower, upper uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint16(r.lower), uint16(r.upper)
}

// Update moves the auto range towards the spread of f. A change smaller
// than a sixteenth of the spread is ignored so the colours do not flicker.
func (r *Renderer) Update(f *mlx90640.TempFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opts.AutoRange {
		return
	}

	lo, hi := int32(f.Data[0]), int32(f.Data[0])
	for _, v := range f.Data[1:] {
		lo = min(lo, int32(v))
		hi = max(hi, int32(v))
	}
	margin := (hi-lo)>>4 + 1
	lo -= margin
	hi += margin
	if !r.rangeSet {
		r.low.set(lo)
		r.high.set(hi)
		r.rangeSet = true
	}
	r.lower = r.low.exec(lo, margin)
	r.upper = r.high.exec(hi, margin)
	if r.upper <= r.lower {
		r.upper = r.lower + 1
	}
}

// Draw renders the whole canvas. dst holds width*height pixels.
func (r *Renderer) Draw(f *mlx90640.TempFrame, dst []uint16) {
	r.DrawRows(f, dst, 0, r.height)
}

// DrawRows renders canvas rows y0 to y0+rows into dst, which holds
// rows*width pixels.
func (r *Renderer) DrawRows(f *mlx90640.TempFrame, dst []uint16, y0, rows int) {
	r.mu.Lock()
	lower, diff := r.lower, r.upper-r.lower+1
	colours := &r.palette.Colour
	r.mu.Unlock()

	rows = min(rows, r.height-y0)
	for j := 0; j < rows; j++ {
		ys := r.ys[y0+j]
		row0 := f.Data[ys.i0*gridW : (ys.i0+1)*gridW]
		row1 := f.Data[ys.i1*gridW : (ys.i1+1)*gridW]
		line := dst[j*r.width : (j+1)*r.width]
		for x, xs := range r.xs {
			top := lerp(int32(row0[xs.i0]), int32(row0[xs.i1]), xs.w)
			bottom := lerp(int32(row1[xs.i0]), int32(row1[xs.i1]), xs.w)
			v := lerp(top, bottom, ys.w)
			idx := ((v - lower) << 8) / diff
			line[x] = colours[max(0, min(idx, 255))]
		}
	}
}

func lerp(a, b, w int32) int32 {
	return a + ((b-a)*w)>>8
}

// smoother eases a range limit towards its target, in 1/256ths of a
// temperature unit.
type smoother struct {
	target  int32
	current int32
	add     int32
}

func (s *smoother) set(v int32) {
	s.target = v << 8
	s.current = s.target
	s.add = 0
}

// exec retargets when src has moved more than margin, then takes one step
// and returns the current value.
func (s *smoother) exec(src, margin int32) int32 {
	t := src << 8
	if abs(t-s.target) > margin<<8 {
		s.target = t
	}
	diff := s.target - s.current
	if diff == 0 {
		s.add = 0
		return s.current >> 8
	}
	step, rem := int32(1), abs(diff)
	for {
		rem -= step
		if rem <= 0 {
			break
		}
		step *= 2
	}
	step += rem
	if diff < 0 {
		step = -step
	}
	s.add = (s.add + step>>1) >> 1
	s.current += s.add
	return s.current >> 8
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
