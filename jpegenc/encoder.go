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

// Package jpegenc is a baseline JPEG encoder that takes RGB565 scanlines
// one at a time and hands the compressed stream to a Sink in small
// buffers, so an image never has to exist in full in memory.
package jpegenc

import (
	"errors"
	"fmt"
	"strings"
)

// Subsampling selects the components written and their sampling factors.
type Subsampling int

const (
	// YOnly writes a single grey component.
	YOnly Subsampling = iota
	H1V1
	H2V1
	H2V2
)

func (s Subsampling) String() string {
	switch s {
	case YOnly:
		return "Y"
	case H1V1:
		return "H1V1"
	case H2V1:
		return "H2V1"
	case H2V2:
		return "H2V2"
	}
	return fmt.Sprintf("Subsampling(%d)", int(s))
}

// ParseSubsampling accepts the names returned by String, in any case.
func ParseSubsampling(name string) (Subsampling, error) {
	for s := YOnly; s <= H2V2; s++ {
		if strings.EqualFold(strings.TrimSpace(name), s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown subsampling %q", name)
}

// Params controls the compression.
type Params struct {
	Quality     int
	Subsampling Subsampling
}

// Validate checks the quality is 1-100 and the subsampling is known.
func (p Params) Validate() error {
	if p.Quality < 1 || p.Quality > 100 {
		return fmt.Errorf("quality %d not in 1-100", p.Quality)
	}
	if p.Subsampling < YOnly || p.Subsampling > H2V2 {
		return fmt.Errorf("unknown subsampling %d", int(p.Subsampling))
	}
	return nil
}

const (
	outBufSize  = 1024
	outBufCount = 4
	maxDim      = 0xFFFF
)

var (
	ErrNotInitialised = errors.New("encoder not initialised")
	ErrNoSink         = errors.New("no sink")
)

// Encoder state across one image. Init sets the geometry, after which each
// image is started with Reinit and fed exactly height scanlines before
// Finish. An Encoder is not safe for concurrent use.
type Encoder struct {
	sink          Sink
	params        Params
	width, height int

	comps      int
	hSamp      [3]int
	vSamp      [3]int
	mcuW, mcuH int
	paddedW    int
	mcuLines   [][]int32 // mcuH rows of paddedW interleaved Y, Cb, Cr
	mcuRow     int
	lines      int

	quality int
	quant   [2][64]uint8
	dc      *[2]huffTable
	ac      *[2]huffTable
	lastDC  [3]int32
	block   [64]int32
	coef    [64]int32

	bitBuf uint32
	bitsIn uint

	out    [outBufCount][outBufSize]byte
	outIdx int
	outLen int

	open bool
	err  error
}

// Init sets up the encoder for images of the given size and starts the
// first one. The sink is written synchronously from the encoding calls.
func (e *Encoder) Init(sink Sink, width, height int, p Params) error {
	if sink == nil {
		return ErrNoSink
	}
	if width < 1 || height < 1 || width > maxDim || height > maxDim {
		return fmt.Errorf("bad image size %dx%d", width, height)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	e.sink = sink
	e.params = p
	e.width = width
	e.height = height

	switch p.Subsampling {
	case YOnly:
		e.comps, e.mcuW, e.mcuH = 1, 8, 8
		e.hSamp, e.vSamp = [3]int{1}, [3]int{1}
	case H1V1:
		e.comps, e.mcuW, e.mcuH = 3, 8, 8
		e.hSamp, e.vSamp = [3]int{1, 1, 1}, [3]int{1, 1, 1}
	case H2V1:
		e.comps, e.mcuW, e.mcuH = 3, 16, 8
		e.hSamp, e.vSamp = [3]int{2, 1, 1}, [3]int{1, 1, 1}
	case H2V2:
		e.comps, e.mcuW, e.mcuH = 3, 16, 16
		e.hSamp, e.vSamp = [3]int{2, 1, 1}, [3]int{2, 1, 1}
	}
	e.paddedW = (width + e.mcuW - 1) / e.mcuW * e.mcuW
	e.mcuLines = make([][]int32, e.mcuH)
	for i := range e.mcuLines {
		e.mcuLines[i] = make([]int32, e.paddedW*3)
	}
	e.dc, e.ac = huffmanTables()
	e.quality = 0
	return e.Reinit(p.Quality)
}

// Reinit starts a new image with the geometry from Init, clearing any
// sink error left by the previous one. The quantisation tables are only
// rebuilt when the quality changes.
func (e *Encoder) Reinit(quality int) error {
	if e.mcuLines == nil {
		return ErrNotInitialised
	}
	if quality < 1 || quality > 100 {
		return fmt.Errorf("quality %d not in 1-100", quality)
	}
	if quality != e.quality {
		e.quant[0] = quantTable(&stdLumaQuant, quality)
		e.quant[1] = quantTable(&stdChromaQuant, quality)
		e.quality = quality
		e.params.Quality = quality
	}
	e.err = nil
	e.outLen = 0
	e.bitBuf = 0
	e.bitsIn = 32
	e.lastDC = [3]int32{}
	e.mcuRow = 0
	e.lines = 0
	e.writeHeaders()
	e.open = e.err == nil
	return e.err
}

// Params returns the settings in use.
func (e *Encoder) Params() Params {
	return e.params
}

// Err returns the first error from the sink for the current image.
func (e *Encoder) Err() error {
	return e.err
}

// ProcessScanline565 adds the next row of the image. It returns false when
// no image is open, the line is too short, every row has already been
// given, or the sink has failed.
func (e *Encoder) ProcessScanline565(line []uint16) bool {
	if !e.open || e.err != nil || len(line) < e.width || e.lines >= e.height {
		return false
	}
	dst := e.mcuLines[e.mcuRow]
	for x := 0; x < e.width; x++ {
		y, cb, cr := rgb565ToYCC(line[x])
		dst[x*3], dst[x*3+1], dst[x*3+2] = y, cb, cr
	}
	last := (e.width - 1) * 3
	for x := e.width; x < e.paddedW; x++ {
		copy(dst[x*3:x*3+3], dst[last:last+3])
	}
	e.lines++
	e.mcuRow++
	if e.mcuRow == e.mcuH {
		e.processMCURow()
		e.mcuRow = 0
	}
	return e.err == nil
}

// Finish completes the image, flushes the output and calls PutBuf(nil).
// No more scanlines are accepted until the next Reinit.
func (e *Encoder) Finish() bool {
	if !e.open || e.err != nil {
		return false
	}
	if e.mcuRow > 0 {
		for i := e.mcuRow; i < e.mcuH; i++ {
			copy(e.mcuLines[i], e.mcuLines[e.mcuRow-1])
		}
		e.processMCURow()
		e.mcuRow = 0
	}
	// pad the last byte with ones
	e.putBits(0x7F, 7)
	e.emitMarker(markerEOI)
	e.flush()
	if e.err == nil {
		e.err = e.sink.PutBuf(nil)
	}
	e.open = false
	return e.err == nil
}

func (e *Encoder) processMCURow() {
	for x := 0; x < e.paddedW/e.mcuW; x++ {
		switch e.params.Subsampling {
		case YOnly:
			e.loadBlock8x8(x, 0, 0)
			e.codeBlock(0)
		case H1V1:
			for c := 0; c < 3; c++ {
				e.loadBlock8x8(x, 0, c)
				e.codeBlock(c)
			}
		case H2V1:
			e.loadBlock8x8(x*2, 0, 0)
			e.codeBlock(0)
			e.loadBlock8x8(x*2+1, 0, 0)
			e.codeBlock(0)
			e.loadBlock16x8(x, 1)
			e.codeBlock(1)
			e.loadBlock16x8(x, 2)
			e.codeBlock(2)
		case H2V2:
			for y := 0; y < 2; y++ {
				e.loadBlock8x8(x*2, y, 0)
				e.codeBlock(0)
				e.loadBlock8x8(x*2+1, y, 0)
				e.codeBlock(0)
			}
			e.loadBlock16x16(x, 1)
			e.codeBlock(1)
			e.loadBlock16x16(x, 2)
			e.codeBlock(2)
		}
		if e.err != nil {
			return
		}
	}
}

func (e *Encoder) loadBlock8x8(bx, by, c int) {
	b := e.block[:]
	for i := 0; i < 8; i++ {
		src := e.mcuLines[by*8+i][bx*8*3+c:]
		for j := 0; j < 8; j++ {
			b[i*8+j] = src[j*3] - 128
		}
	}
}

// loadBlock16x8 averages horizontal pairs of a 16x8 area.
func (e *Encoder) loadBlock16x8(bx, c int) {
	b := e.block[:]
	for i := 0; i < 8; i++ {
		src := e.mcuLines[i][bx*16*3+c:]
		for j := 0; j < 8; j++ {
			b[i*8+j] = (src[j*6]+src[j*6+3])>>1 - 128
		}
	}
}

// loadBlock16x16 averages 2x2 areas. The rounding bias alternates between
// neighbours so it does not drift the average.
func (e *Encoder) loadBlock16x16(bx, c int) {
	b := e.block[:]
	for i := 0; i < 8; i++ {
		s1 := e.mcuLines[i*2][bx*16*3+c:]
		s2 := e.mcuLines[i*2+1][bx*16*3+c:]
		bias := [2]int32{1, 2}
		if i&1 == 1 {
			bias = [2]int32{2, 1}
		}
		for j := 0; j < 8; j++ {
			sum := s1[j*6] + s1[j*6+3] + s2[j*6] + s2[j*6+3]
			b[i*8+j] = (sum+bias[j&1])>>2 - 128
		}
	}
}

// codeBlock transforms, quantises and Huffman codes the loaded block.
func (e *Encoder) codeBlock(c int) {
	table := 0
	if c > 0 {
		table = 1
	}
	fdct(&e.block)
	q := &e.quant[table]
	for i := 0; i < 64; i++ {
		v := e.block[zigzag[i]]
		d := int32(q[i])
		if v < 0 {
			e.coef[i] = -((-v + d>>1) / d)
		} else {
			e.coef[i] = (v + d>>1) / d
		}
	}

	dc, ac := &e.dc[table], &e.ac[table]
	diff := e.coef[0] - e.lastDC[c]
	e.lastDC[c] = e.coef[0]
	n, bits := magnitude(diff)
	e.putCode(dc[n])
	if n > 0 {
		e.putBits(bits, n)
	}

	run := 0
	for i := 1; i < 64; i++ {
		v := e.coef[i]
		if v == 0 {
			run++
			continue
		}
		for run >= 16 {
			e.putCode(ac[0xF0])
			run -= 16
		}
		n, bits := magnitude(v)
		e.putCode(ac[run<<4|int(n)])
		e.putBits(bits, n)
		run = 0
	}
	if run > 0 {
		e.putCode(ac[0x00])
	}
}

// magnitude returns the size category of v and its low order bits, with
// negative values in one's complement form.
func magnitude(v int32) (uint, uint32) {
	a := v
	if a < 0 {
		a = -a
	}
	var n uint
	for a > 0 {
		n++
		a >>= 1
	}
	if v < 0 {
		v += 1<<n - 1
	}
	return n, uint32(v) & (1<<n - 1)
}
