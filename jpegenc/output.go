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

func (e *Encoder) emitByte(b byte) {
	e.out[e.outIdx][e.outLen] = b
	e.outLen++
	if e.outLen == outBufSize {
		e.flush()
	}
}

// flush hands the current buffer to the sink and moves to the next one in
// the ring. Nothing more is sent once the sink has failed.
func (e *Encoder) flush() {
	if e.outLen == 0 {
		return
	}
	if e.err == nil {
		e.err = e.sink.PutBuf(e.out[e.outIdx][:e.outLen])
	}
	e.outIdx = (e.outIdx + 1) % outBufCount
	e.outLen = 0
}

func (e *Encoder) emitWord(w int) {
	e.emitByte(byte(w >> 8))
	e.emitByte(byte(w))
}

func (e *Encoder) emitMarker(m byte) {
	e.emitByte(0xFF)
	e.emitByte(m)
}

// putBits appends the low n bits of bits, n at most 16, to the entropy
// coded stream. Every 0xFF byte written is followed by a stuffed zero.
func (e *Encoder) putBits(bits uint32, n uint) {
	e.bitsIn -= n
	e.bitBuf |= bits << e.bitsIn
	for e.bitsIn <= 24 {
		c := byte(e.bitBuf >> 24)
		e.emitByte(c)
		if c == 0xFF {
			e.emitByte(0)
		}
		e.bitBuf <<= 8
		e.bitsIn += 8
	}
}

func (e *Encoder) putCode(h huffCode) {
	e.putBits(h.code, h.size)
}

func (e *Encoder) writeHeaders() {
	e.emitMarker(markerSOI)

	// JFIF 1.1, no density, no thumbnail
	e.emitMarker(markerAPP0)
	e.emitWord(16)
	for _, b := range []byte("JFIF\x00") {
		e.emitByte(b)
	}
	e.emitByte(1)
	e.emitByte(1)
	e.emitByte(0)
	e.emitWord(1)
	e.emitWord(1)
	e.emitByte(0)
	e.emitByte(0)

	tables := 1
	if e.comps == 3 {
		tables = 2
	}
	for i := 0; i < tables; i++ {
		e.emitMarker(markerDQT)
		e.emitWord(64 + 1 + 2)
		e.emitByte(byte(i))
		for _, q := range e.quant[i] {
			e.emitByte(q)
		}
	}

	e.emitMarker(markerSOF0)
	e.emitWord(3*e.comps + 2 + 5 + 1)
	e.emitByte(8)
	e.emitWord(e.height)
	e.emitWord(e.width)
	e.emitByte(byte(e.comps))
	for i := 0; i < e.comps; i++ {
		e.emitByte(byte(i + 1))
		e.emitByte(byte(e.hSamp[i]<<4 | e.vSamp[i]))
		if i > 0 {
			e.emitByte(1)
		} else {
			e.emitByte(0)
		}
	}

	for i := 0; i < tables; i++ {
		e.writeDHT(huffSpecDC[i], byte(i))
		e.writeDHT(huffSpecAC[i], byte(i)|0x10)
	}

	e.emitMarker(markerSOS)
	e.emitWord(2*e.comps + 2 + 1 + 3)
	e.emitByte(byte(e.comps))
	for i := 0; i < e.comps; i++ {
		e.emitByte(byte(i + 1))
		if i == 0 {
			e.emitByte(0x00)
		} else {
			e.emitByte(0x11)
		}
	}
	e.emitByte(0)
	e.emitByte(63)
	e.emitByte(0)
}

func (e *Encoder) writeDHT(spec *huffSpec, index byte) {
	e.emitMarker(markerDHT)
	e.emitWord(2 + 1 + 16 + len(spec.vals))
	e.emitByte(index)
	for _, b := range spec.bits {
		e.emitByte(b)
	}
	for _, v := range spec.vals {
		e.emitByte(v)
	}
}
