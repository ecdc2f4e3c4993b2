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
	"encoding/binary"
	"fmt"
)

const frameHeaderWords = 10

// FrameBytes is the size of a marshalled TempFrame.
const FrameBytes = (frameHeaderWords + Cells) * 2

// MarshalBinary packs the frame as little endian words: subpage, min
// (temp, x, y), max (temp, x, y), average, median, centre, then the cells.
func (t *TempFrame) MarshalBinary() ([]byte, error) {
	return t.AppendBinary(make([]byte, 0, FrameBytes))
}

// AppendBinary appends the MarshalBinary form of t to b.
func (t *TempFrame) AppendBinary(b []byte) ([]byte, error) {
	head := [frameHeaderWords]uint16{
		uint16(t.Subpage),
		t.Min.Temp, uint16(t.Min.X), uint16(t.Min.Y),
		t.Max.Temp, uint16(t.Max.X), uint16(t.Max.Y),
		t.Avg, t.Median, t.Center,
	}
	for _, v := range head {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	for _, v := range t.Data {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b, nil
}

func (t *TempFrame) UnmarshalBinary(b []byte) error {
	if len(b) != FrameBytes {
		return fmt.Errorf("frame is %d bytes, want %d", len(b), FrameBytes)
	}
	word := func(i int) uint16 {
		return binary.LittleEndian.Uint16(b[i*2:])
	}
	t.Subpage = int(word(0) & 1)
	t.Min = Spot{Temp: word(1), X: int(word(2)), Y: int(word(3))}
	t.Max = Spot{Temp: word(4), X: int(word(5)), Y: int(word(6))}
	t.Avg, t.Median, t.Center = word(7), word(8), word(9)
	for i := range t.Data {
		t.Data[i] = word(frameHeaderWords + i)
	}
	return nil
}
