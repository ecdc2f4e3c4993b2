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

// noiseTable holds the extra noise of a pixel by its distance from the
// centre of the array, 17 columns by 13 rows. The values were measured
// and are reproduced as is.
var noiseTable = [17 * 13]uint8{
	0, 0, 0, 1, 2, 5, 8, 13, 20, 28, 39, 52, 67, 86, 107, 132, 160,
	0, 0, 0, 1, 3, 5, 9, 14, 20, 29, 39, 52, 68, 86, 108, 132, 160,
	0, 0, 1, 2, 3, 6, 9, 14, 21, 30, 41, 54, 69, 88, 109, 134, 162,
	1, 1, 1, 2, 4, 7, 11, 16, 23, 32, 42, 56, 72, 90, 112, 137, 165,
	1, 2, 2, 3, 5, 8, 12, 18, 25, 34, 45, 59, 75, 94, 116, 141, 170,
	3, 3, 4, 5, 7, 10, 15, 21, 28, 37, 49, 63, 79, 98, 121, 146, 175,
	4, 5, 6, 7, 10, 13, 18, 24, 32, 42, 54, 68, 85, 104, 127, 153, 182,
	7, 7, 8, 10, 13, 17, 22, 28, 37, 47, 59, 74, 91, 111, 134, 161, 191,
	11, 11, 12, 14, 17, 21, 27, 34, 42, 53, 66, 81, 99, 119, 143, 170, 200,
	15, 15, 17, 19, 22, 27, 33, 40, 49, 60, 74, 89, 108, 129, 153, 181, 212,
	21, 21, 22, 25, 29, 33, 40, 48, 57, 69, 83, 99, 118, 140, 165, 193, 225,
	27, 28, 29, 32, 36, 41, 48, 56, 67, 79, 93, 110, 130, 152, 178, 207, 239,
	35, 36, 38, 41, 45, 51, 58, 67, 77, 90, 105, 123, 143, 166, 193, 222, 255,
}

// levelTable is the base filter level per refresh rate.
var levelTable = [8]int{181, 256, 362, 512, 724, 1024, 1448, 2048}

// MaxFilterStrength is the largest strength FilterLevel uses.
const MaxFilterStrength = 15

// FilterLevel combines the refresh rate with a user strength of 0 to 15.
// Zero turns the filter off.
func FilterLevel(rate Rate, strength int) int {
	return (levelTable[rate&7] * (strength & 0xF)) >> 6
}

// NoiseThreshold is the change a pixel must exceed between two frames of
// the same subpage before it is followed.
func NoiseThreshold(px, level int) int {
	x := px&31 - 15
	if x < 0 {
		x = ^x
	}
	y := px>>5 - 13
	if y < 0 {
		y = ^y
	}
	return (level * (96 + int(noiseTable[x+y*17]))) >> 8
}

// filterCell moves a temperature towards prev by the threshold, or holds
// prev when the change is within it.
func filterCell(temp, prev, threshold int) int {
	diff := temp - prev
	if diff > threshold || -diff > threshold {
		if diff < 0 {
			return temp + threshold
		}
		return temp - threshold
	}
	return prev
}

// ApplyNoiseFilter filters every cell of out against prev. CalculateTo
// does the same inline; this is for frames computed without a filter.
func ApplyNoiseFilter(out, prev *TempFrame, level int) {
	if level <= 0 {
		return
	}
	for i := range out.Data {
		px := CellPixel(i, out.Subpage)
		out.Data[i] = uint16(filterCell(int(out.Data[i]), int(prev.Data[i]), NoiseThreshold(px, level)))
	}
}
