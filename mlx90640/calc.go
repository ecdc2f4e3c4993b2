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

import "math"

const (
	kelvin = 273.15
	// TaShift is how far below the sensor's own temperature the reflected
	// temperature is assumed to be in open air.
	TaShift = 8
)

// Vdd returns the supply voltage measured with frame f.
func (p *Params) Vdd(f *RawFrame) float64 {
	resolutionRAM := int((f[832] & 0x0C00) >> 10)
	correction := pow2(int(p.ResolutionEE)) / pow2(resolutionRAM)
	return (correction*float64(int16(f[810]))-float64(p.Vdd25))/float64(p.KVdd) + 3.3
}

// Ta returns the ambient (die) temperature in degrees.
func (p *Params) Ta(f *RawFrame) float64 {
	vdd := p.Vdd(f)
	ptat := float64(int16(f[800]))
	ptatArt := float64(int16(f[768]))
	ptatArt = ptat / (ptat*p.AlphaPTAT + ptatArt) * pow2(18)

	ta := ptatArt/(1+p.KvPTAT*(vdd-3.3)) - float64(p.VPTAT25)
	return ta/p.KtPTAT + 25
}

// Tr returns the reflected temperature used when none is measured.
func (p *Params) Tr(f *RawFrame) float64 {
	return p.Ta(f) - TaShift
}

// CalculateTo computes the cells of out belonging to the subpage in f.
// emissivity is a fraction and tr the reflected temperature in degrees.
//
// With prev nil, deviating pixels are afterwards interpolated from their
// freshly computed neighbours. Otherwise they take the mean of their
// neighbours in prev, and a filterLevel above zero applies the noise
// filter against prev. prev should hold the same subpage as f.
func (p *Params) CalculateTo(f *RawFrame, emissivity, tr float64, out, prev *TempFrame, filterLevel int) {
	subpage := f.Subpage()
	out.Subpage = subpage

	vdd := p.Vdd(f) - 3.3
	ta := p.Ta(f)

	ta4 := math.Pow(ta+kelvin, 4)
	tr4 := math.Pow(tr+kelvin, 4)
	taTr := tr4 - (tr4-ta4)/emissivity

	ktaScale := pow2(int(p.KtaScale))
	kvScale := pow2(int(p.KvScale))
	alphaScale := pow2(int(p.AlphaScale))

	var alphaCorrR [4]float64
	alphaCorrR[0] = 1 / (1 + p.KsTo[0]*40)
	alphaCorrR[1] = 1
	alphaCorrR[2] = 1 + p.KsTo[1]*float64(p.CT[2])
	alphaCorrR[3] = alphaCorrR[2] * (1 + p.KsTo[2]*float64(p.CT[3]-p.CT[2]))

	gain := float64(p.GainEE) / float64(int16(f[778]))
	mode := uint8((f[832]&0x1000)>>5)

	taComp := 1 + p.CPKta*(ta-25)
	vddComp := 1 + p.CPKv*vdd
	var irDataCP [2]float64
	irDataCP[0] = float64(int16(f[776]))*gain - float64(p.CPOffset[0])*taComp*vddComp
	cpOffset1 := float64(p.CPOffset[1])
	if mode != p.CalibrationModeEE {
		cpOffset1 += p.ILChessC[0]
	}
	irDataCP[1] = float64(int16(f[808]))*gain - cpOffset1*taComp*vddComp

	ksTo127315 := 1 - p.KsTo[1]*kelvin
	filter := prev != nil && filterLevel > 0

	for i := 0; i < Cells; i++ {
		il := (i >> 4) & 1
		px := CellPixel(i, subpage)

		if p.deviating(px) {
			if prev != nil {
				out.Data[i] = neighbourMean(&prev.Data, i)
			}
			continue
		}

		ir := gain * float64(int16(f[px]))
		kta := float64(p.Kta[px]) / ktaScale
		kv := float64(p.Kv[px]) / kvScale
		ir -= float64(p.Offset[px]) * (1 + kta*(ta-25)) * (1 + kv*vdd)

		if mode != p.CalibrationModeEE {
			conversion := ((px+2)>>2 - (px+3)>>2 + (px+1)>>2 - px>>2) * (1 - 2*il)
			ir += p.ILChessC[2]*float64(2*il-1) - p.ILChessC[1]*float64(conversion)
		}

		ir -= p.TGC * irDataCP[subpage]
		ir /= emissivity

		alphaComp := scaleAlpha * alphaScale / float64(p.Alpha[px])
		alphaComp *= 1 + p.KsTa*(ta-25)

		sx := alphaComp * alphaComp * alphaComp * (ir + alphaComp*taTr)
		sx = math.Sqrt(math.Sqrt(sx)) * p.KsTo[1]
		to := math.Sqrt(math.Sqrt(ir/(alphaComp*ksTo127315+sx)+taTr)) - kelvin

		r := p.tempRange(to)
		v := math.Sqrt(math.Sqrt(ir/(alphaComp*alphaCorrR[r]*(1+p.KsTo[r]*(to-float64(p.CT[r]))))+taTr))
		temp := clampTemp(math.Round((v + DataOffset - kelvin) * DataRatio))

		if filter {
			temp = filterCell(temp, int(prev.Data[i]), NoiseThreshold(px, filterLevel))
		}
		out.Data[i] = uint16(temp)
	}

	if prev == nil {
		p.interpolateDeviating(out)
	}
}

func (p *Params) tempRange(to float64) int {
	switch {
	case to < float64(p.CT[1]):
		return 0
	case to < float64(p.CT[2]):
		return 1
	case to < float64(p.CT[3]):
		return 2
	}
	return 3
}

// clampTemp bounds a stored temperature to 16 bits. NaN, from a pixel
// with no usable reading, maps to zero.
func clampTemp(v float64) int {
	switch {
	case v >= 65535:
		return 65535
	case v > 0:
		return int(v)
	}
	return 0
}

// neighbourMean averages the cells left, right, above and below cell i
// that exist on the sensor raster.
func neighbourMean(data *[Cells]uint16, i int) uint16 {
	col := i % CellsWide
	row := i / CellsWide
	sum, n := 0, 0
	if col > 0 {
		sum += int(data[i-1])
		n++
	}
	if col < CellsWide-1 {
		sum += int(data[i+1])
		n++
	}
	if row > 0 {
		sum += int(data[i-CellsWide])
		n++
	}
	if row < Rows-1 {
		sum += int(data[i+CellsWide])
		n++
	}
	return uint16(sum / n)
}

func (p *Params) interpolateDeviating(out *TempFrame) {
	for _, list := range [2]*[maxDeviating]uint16{&p.BrokenPixels, &p.OutlierPixels} {
		for _, px := range list {
			if px >= NoPixel {
				break
			}
			i := int(px) >> 1
			if CellPixel(i, out.Subpage) == int(px) {
				out.Data[i] = neighbourMean(&out.Data, i)
			}
		}
	}
}
