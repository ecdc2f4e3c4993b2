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

package jpegenc

// Fixed point YCbCr weights, scaled by 1<<16.
const (
	yR  = 19595
	yG  = 38470
	yB  = 7471
	cbR = -11059
	cbG = -21709
	cbB = 32768
	crR = 32768
	crG = -27439
	crB = -5329
)

func clampByte(v int32) int32 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// rgb565ToYCC expands a 5-6-5 pixel (red in the top bits) to full range
// YCbCr.
func rgb565ToYCC(v uint16) (y, cb, cr int32) {
	r := int32(v>>11) * 0x21 >> 2
	g6 := int32(v>>5) & 0x3F
	g := g6<<2 | g6>>4
	b := int32(v&0x1F) * 0x21 >> 2

	y = (r*yR + g*yG + b*yB + 32768) >> 16
	cb = clampByte(128 + (r*cbR+g*cbG+b*cbB+32768)>>16)
	cr = clampByte(128 + (r*crR+g*crG+b*crB+32768)>>16)
	return y, cb, cr
}

// Forward DCT in 13 bit fixed point. The row pass keeps two extra bits of
// precision which the column pass removes together with the 8x scale of
// the transform, so the output is the true DCT coefficient.
const (
	constBits = 13
	rowBits   = 2

	fix0_298631336 = 2446
	fix0_390180644 = 3196
	fix0_541196100 = 4433
	fix0_765366865 = 6270
	fix0_899976223 = 7373
	fix1_175875602 = 9633
	fix1_501321110 = 12299
	fix1_847759065 = 15137
	fix1_961570560 = 16069
	fix2_053119869 = 16819
	fix2_562915447 = 20995
	fix3_072711026 = 25172
)

func descale(x int32, n uint) int32 {
	return (x + 1<<(n-1)) >> n
}

// dct1D transforms the 8 values of s at stride step. Outputs 0 and 4 are
// shifted left by evenShift when evenLeft is set and descaled otherwise.
func dct1D(s []int32, off, step int, evenShift, oddShift uint, evenLeft bool) {
	s0, s1, s2, s3 := s[off], s[off+step], s[off+2*step], s[off+3*step]
	s4, s5, s6, s7 := s[off+4*step], s[off+5*step], s[off+6*step], s[off+7*step]

	t0, t7 := s0+s7, s0-s7
	t1, t6 := s1+s6, s1-s6
	t2, t5 := s2+s5, s2-s5
	t3, t4 := s3+s4, s3-s4

	t10, t13 := t0+t3, t0-t3
	t11, t12 := t1+t2, t1-t2

	even := func(x int32) int32 {
		if evenLeft {
			return x << evenShift
		}
		return descale(x, evenShift)
	}
	u1 := (t12 + t13) * fix0_541196100
	s[off] = even(t10 + t11)
	s[off+4*step] = even(t10 - t11)
	s[off+2*step] = descale(u1+t13*fix0_765366865, oddShift)
	s[off+6*step] = descale(u1+t12*-fix1_847759065, oddShift)

	z1, z2, z3, z4 := t4+t7, t5+t6, t4+t6, t5+t7
	z5 := (z3 + z4) * fix1_175875602
	t4 *= fix0_298631336
	t5 *= fix2_053119869
	t6 *= fix3_072711026
	t7 *= fix1_501321110
	z1 *= -fix0_899976223
	z2 *= -fix2_562915447
	z3 = z3*-fix1_961570560 + z5
	z4 = z4*-fix0_390180644 + z5

	s[off+7*step] = descale(t4+z1+z3, oddShift)
	s[off+5*step] = descale(t5+z2+z4, oddShift)
	s[off+3*step] = descale(t6+z2+z3, oddShift)
	s[off+step] = descale(t7+z1+z4, oddShift)
}

// fdct transforms a level shifted 8x8 block in place.
func fdct(block *[64]int32) {
	s := block[:]
	for row := 0; row < 8; row++ {
		dct1D(s, row*8, 1, rowBits, constBits-rowBits, true)
	}
	for col := 0; col < 8; col++ {
		dct1D(s, col, 8, rowBits+3, constBits+rowBits+3, false)
	}
}
