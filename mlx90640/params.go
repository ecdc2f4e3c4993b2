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

package mlx90640

import (
	"fmt"
	"math"
)

const (
	scaleAlpha = 0.000001
	// bounds the auto ranging on blank or corrupt images
	maxScale = 31
)

// Params are the calibration constants of one sensor. They are decoded
// once by ExtractParams and only read afterwards.
type Params struct {
	KVdd      int16
	Vdd25     int16
	KvPTAT    float64
	KtPTAT    float64
	VPTAT25   uint16
	AlphaPTAT float64

	GainEE            int16
	TGC               float64
	CPKv              float64
	CPKta             float64
	ResolutionEE      uint8
	CalibrationModeEE uint8
	KsTa              float64
	KsTo              [5]float64
	CT                [5]int16

	Alpha      [Pixels]uint16
	AlphaScale uint8
	Offset     [Pixels]int16
	Kta        [Pixels]int8
	KtaScale   uint8
	Kv         [Pixels]int8
	KvScale    uint8

	CPAlpha  [2]float64
	CPOffset [2]int16
	ILChessC [3]float64

	// Sorted pixel numbers terminated by NoPixel.
	BrokenPixels  [maxDeviating]uint16
	OutlierPixels [maxDeviating]uint16
}

// ExtractParams decodes an EEPROM image read from 0x2400. The warning is
// informational: the parameters are usable whatever its value.
func ExtractParams(ee []uint16) (*Params, Warning, error) {
	if len(ee) < EEPROMWords {
		return nil, WarnNone, fmt.Errorf("eeprom image too short: %d words", len(ee))
	}
	p := new(Params)
	p.setVdd(ee)
	p.setPTAT(ee)
	p.setGain(ee)
	p.setTGC(ee)
	p.setResolution(ee)
	p.setKsTa(ee)
	p.setKsTo(ee)
	// alpha is corrected by the compensation pixel so CP goes first
	p.setCP(ee)
	p.setAlpha(ee)
	p.setOffset(ee)
	p.setKta(ee)
	p.setKv(ee)
	p.setCILC(ee)
	warn := p.setDeviatingPixels(ee)
	return p, warn, nil
}

// signed interprets the low bits of v as a two's complement number.
func signed(v uint16, bits uint) int {
	x := int(v) & (1<<bits - 1)
	if x >= 1<<(bits-1) {
		x -= 1 << bits
	}
	return x
}

func pow2(n int) float64 {
	return math.Ldexp(1, n)
}

func (p *Params) setVdd(ee []uint16) {
	p.KVdd = int16(signed(ee[0x33]>>8, 8) << 5)
	p.Vdd25 = int16((int(ee[0x33]&0xFF)-256)<<5 - 8192)
}

func (p *Params) setPTAT(ee []uint16) {
	p.KvPTAT = float64(signed(ee[0x32]>>10, 6)) / 4096
	p.KtPTAT = float64(signed(ee[0x32]&0x3FF, 10)) / 8
	p.VPTAT25 = ee[0x31]
	p.AlphaPTAT = float64(ee[0x10]>>12)/4 + 8
}

func (p *Params) setGain(ee []uint16) {
	p.GainEE = int16(ee[0x30])
}

func (p *Params) setTGC(ee []uint16) {
	p.TGC = float64(signed(ee[0x3C]&0xFF, 8)) / 32
}

func (p *Params) setResolution(ee []uint16) {
	p.ResolutionEE = uint8(ee[0x38]>>12) & 0x3
}

func (p *Params) setKsTa(ee []uint16) {
	p.KsTa = float64(signed(ee[0x3C]>>8, 8)) / 8192
}

func (p *Params) setKsTo(ee []uint16) {
	scale := float64(int(1) << ((ee[0x3F] & 0xF) + 8))
	p.KsTo[0] = float64(signed(ee[0x3D]&0xFF, 8)) / scale
	p.KsTo[1] = float64(signed(ee[0x3D]>>8, 8)) / scale
	p.KsTo[2] = float64(signed(ee[0x3E]&0xFF, 8)) / scale
	p.KsTo[3] = float64(signed(ee[0x3E]>>8, 8)) / scale
	p.KsTo[4] = -0.0002

	step := int16((ee[0x3F]>>12)&0x3) * 10
	p.CT[0] = -40
	p.CT[1] = 0
	p.CT[2] = int16((ee[0x3F]>>4)&0xF) * step
	p.CT[3] = int16((ee[0x3F]>>8)&0xF)*step + p.CT[2]
	p.CT[4] = 400
}

func (p *Params) setCP(ee []uint16) {
	alphaScale := int(ee[32]>>12) + 27

	offset0 := signed(ee[58]&0x3FF, 10)
	offset1 := signed(ee[58]>>10, 6) + offset0

	alpha0 := float64(signed(ee[57]&0x3FF, 10)) / pow2(alphaScale)
	alpha1 := (1 + float64(signed(ee[57]>>10, 6))/128) * alpha0

	ktaScale := int((ee[56]&0xF0)>>4) + 8
	p.CPKta = float64(signed(ee[59]&0xFF, 8)) / pow2(ktaScale)
	kvScale := int((ee[56] & 0xF00) >> 8)
	p.CPKv = float64(signed(ee[59]>>8, 8)) / pow2(kvScale)

	p.CPAlpha = [2]float64{alpha0, alpha1}
	p.CPOffset = [2]int16{int16(offset0), int16(offset1)}
}

// nibbles unpacks four signed 4 bit values per word, least significant
// nibble first.
func nibbles(words []uint16) []int {
	out := make([]int, 0, len(words)*4)
	for _, w := range words {
		for shift := uint(0); shift < 16; shift += 4 {
			out = append(out, signed(w>>shift, 4))
		}
	}
	return out
}

func (p *Params) setAlpha(ee []uint16) {
	remScale := uint(ee[32] & 0xF)
	colScale := uint((ee[32] & 0xF0) >> 4)
	rowScale := uint((ee[32] & 0xF00) >> 8)
	alphaScale := int(ee[32]>>12) + 30
	alphaRef := int(ee[33])

	accRow := nibbles(ee[34:40])
	accCol := nibbles(ee[40:48])
	cpCorrection := p.TGC * (p.CPAlpha[0] + p.CPAlpha[1]) / 2

	var alpha [Pixels]float64
	for i := 0; i < Rows; i++ {
		for j := 0; j < Cols; j++ {
			px := Cols*i + j
			v := signed((ee[64+px]&0x3F0)>>4, 6) * (1 << remScale)
			v += alphaRef + accRow[i]<<rowScale + accCol[j]<<colScale
			a := float64(v)/pow2(alphaScale) - cpCorrection
			alpha[px] = scaleAlpha / a
		}
	}

	top := alpha[0]
	for _, a := range alpha[1:] {
		if a > top {
			top = a
		}
	}
	scale := 0
	for top < 32768 && scale < maxScale {
		top *= 2
		scale++
	}
	for i, a := range alpha {
		p.Alpha[i] = uint16(a*pow2(scale) + 0.5)
	}
	p.AlphaScale = uint8(scale)
}

func (p *Params) setOffset(ee []uint16) {
	remScale := uint(ee[16] & 0xF)
	colScale := uint((ee[16] & 0xF0) >> 4)
	rowScale := uint((ee[16] & 0xF00) >> 8)
	offsetRef := int(int16(ee[17]))

	occRow := nibbles(ee[18:24])
	occCol := nibbles(ee[24:32])

	for i := 0; i < Rows; i++ {
		for j := 0; j < Cols; j++ {
			px := Cols*i + j
			v := signed(ee[64+px]>>10, 6) * (1 << remScale)
			v += offsetRef + occRow[i]<<rowScale + occCol[j]<<colScale
			p.Offset[px] = int16(v)
		}
	}
}

// autoScale finds the power of two bringing the largest magnitude in
// values to at least 64 and stores the rounded results.
func autoScale(values *[Pixels]float64, out *[Pixels]int8) uint8 {
	top := math.Abs(values[0])
	for _, v := range values[1:] {
		top = math.Max(top, math.Abs(v))
	}
	scale := 0
	for top < 64 && scale < maxScale {
		top *= 2
		scale++
	}
	for i, v := range values {
		v *= pow2(scale)
		if v < 0 {
			out[i] = int8(v - 0.5)
		} else {
			out[i] = int8(v + 0.5)
		}
	}
	return uint8(scale)
}

// split selects one of the four row/column parity groups of a pixel.
func split(px int) int {
	return 2*(px/32-(px/64)*2) + px%2
}

func (p *Params) setKta(ee []uint16) {
	// groups in the order odd row/odd col, odd row/even col,
	// even row/odd col, even row/even col
	ktaRC := [4]int{
		signed(ee[54]>>8, 8),
		signed(ee[55]>>8, 8),
		signed(ee[54]&0xFF, 8),
		signed(ee[55]&0xFF, 8),
	}
	scale1 := int((ee[56]&0xF0)>>4) + 8
	scale2 := uint(ee[56] & 0xF)

	var kta [Pixels]float64
	for px := range kta {
		v := signed((ee[64+px]&0xE)>>1, 3) * (1 << scale2)
		kta[px] = float64(ktaRC[split(px)]+v) / pow2(scale1)
	}
	p.KtaScale = autoScale(&kta, &p.Kta)
}

func (p *Params) setKv(ee []uint16) {
	kvT := [4]int{
		signed(ee[52]>>12, 4),
		signed(ee[52]>>4, 4),
		signed(ee[52]>>8, 4),
		signed(ee[52], 4),
	}
	scale := int((ee[56] & 0xF00) >> 8)

	var kv [Pixels]float64
	for px := range kv {
		kv[px] = float64(kvT[split(px)]) / pow2(scale)
	}
	p.KvScale = autoScale(&kv, &p.Kv)
}

func (p *Params) setCILC(ee []uint16) {
	p.CalibrationModeEE = uint8((ee[10]&0x800)>>4) ^ 0x80
	p.ILChessC[0] = float64(signed(ee[53]&0x3F, 6)) / 16
	p.ILChessC[1] = float64(signed((ee[53]&0x7C0)>>6, 5)) / 2
	p.ILChessC[2] = float64(signed((ee[53]&0xF800)>>11, 5)) / 8
}

// setDeviatingPixels records pixels with a zero EEPROM word as broken and
// pixels with the low bit set as outliers. Scanning stops once either
// list is full.
func (p *Params) setDeviatingPixels(ee []uint16) Warning {
	for i := range p.BrokenPixels {
		p.BrokenPixels[i] = NoPixel
		p.OutlierPixels[i] = NoPixel
	}
	broken, outliers := 0, 0
	for px := 0; px < Pixels && broken < maxDeviating && outliers < maxDeviating; px++ {
		switch w := ee[64+px]; {
		case w == 0:
			p.BrokenPixels[broken] = uint16(px)
			broken++
		case w&1 != 0:
			p.OutlierPixels[outliers] = uint16(px)
			outliers++
		}
	}

	switch {
	case broken > 4:
		return WarnBrokenPixels
	case outliers > 4:
		return WarnOutlierPixels
	case broken+outliers > 4:
		return WarnDeviatingPixels
	}
	for i := 0; i < broken; i++ {
		for j := i + 1; j < broken; j++ {
			if adjacent(p.BrokenPixels[i], p.BrokenPixels[j]) {
				return WarnAdjacentPixels
			}
		}
	}
	for i := 0; i < outliers; i++ {
		for j := i + 1; j < outliers; j++ {
			if adjacent(p.OutlierPixels[i], p.OutlierPixels[j]) {
				return WarnAdjacentPixels
			}
		}
	}
	for i := 0; i < broken; i++ {
		for j := 0; j < outliers; j++ {
			if adjacent(p.BrokenPixels[i], p.OutlierPixels[j]) {
				return WarnAdjacentPixels
			}
		}
	}
	return WarnNone
}

// adjacent reports pixels that touch in a row or a column, allowing for
// the one pixel slack of the chess pattern.
func adjacent(a, b uint16) bool {
	d := int(a) - int(b)
	return (d > -34 && d < -30) || (d > -2 && d < 2) || (d > 30 && d < 34)
}

// deviating reports whether px is in the broken or outlier list.
func (p *Params) deviating(px int) bool {
	for _, list := range [2]*[maxDeviating]uint16{&p.BrokenPixels, &p.OutlierPixels} {
		for _, b := range list {
			if b >= NoPixel {
				break
			}
			if int(b) == px {
				return true
			}
		}
	}
	return false
}
