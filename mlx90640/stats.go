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
	"strconv"
	"strings"
)

// MonitorArea is the centred rectangle, in pixels, that the frame
// statistics cover.
type MonitorArea struct {
	Width  int
	Height int
}

var (
	AreaFull   = MonitorArea{32, 24}
	AreaWide   = MonitorArea{30, 24}
	AreaLarge  = MonitorArea{20, 16}
	AreaMedium = MonitorArea{10, 8}
	AreaSmall  = MonitorArea{6, 4}
	AreaSpot   = MonitorArea{2, 2}

	DefaultMonitorArea = AreaWide
)

func (a MonitorArea) String() string {
	return fmt.Sprintf("%dx%d", a.Width, a.Height)
}

// Validate checks the area fits the array and covers whole cells.
func (a MonitorArea) Validate() error {
	if a.Width < 2 || a.Width > Cols || a.Width%2 != 0 {
		return fmt.Errorf("monitor width must be an even number from 2 to %d, got %d", Cols, a.Width)
	}
	if a.Height < 2 || a.Height > Rows || a.Height%2 != 0 {
		return fmt.Errorf("monitor height must be an even number from 2 to %d, got %d", Rows, a.Height)
	}
	return nil
}

// ParseMonitorArea reads an area written as "WxH".
func ParseMonitorArea(s string) (MonitorArea, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return MonitorArea{}, fmt.Errorf("invalid monitor area %q", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return MonitorArea{}, fmt.Errorf("invalid monitor area %q: %v", s, err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return MonitorArea{}, fmt.Errorf("invalid monitor area %q: %v", s, err)
	}
	a := MonitorArea{w, h}
	return a, a.Validate()
}

// centerCell is the cell nearest the optical centre, pixel (16, 12).
const centerCell = 12*CellsWide + 8

// UpdateStats sets the min, max, average and median over the monitor
// area, and the centre value. Only cells of the frame's subpage are
// visited, so each row of the area is w/2 cells starting on the pixel
// of that subpage.
func (t *TempFrame) UpdateStats(area MonitorArea) {
	w := area.Width / 2
	h := area.Height / 2
	mx := CellsWide - w
	my := Rows/2 - h

	var scratch [Cells]uint16
	n := 0
	total := 0
	minIdx, maxIdx := 0, 0
	coldest, hottest := uint16(0xFFFF), uint16(0)
	for y := my; y < my+h*2; y++ {
		idx := y*CellsWide + (mx+(mx+y+t.Subpage)&1)>>1
		for i := 0; i < w; i, idx = i+1, idx+1 {
			temp := t.Data[idx]
			scratch[n] = temp
			n++
			total += int(temp)
			if temp < coldest {
				coldest = temp
				minIdx = idx
			}
			if temp > hottest {
				hottest = temp
				maxIdx = idx
			}
		}
	}
	if n == 0 {
		return
	}

	t.Avg = uint16(total / n)
	t.Median = selectNth(scratch[:n], n/2)
	t.Min = t.spot(coldest, minIdx)
	t.Max = t.spot(hottest, maxIdx)
	t.Center = t.Data[centerCell]
}

func (t *TempFrame) spot(temp uint16, idx int) Spot {
	y := idx >> 4
	return Spot{
		Temp: temp,
		X:    (idx&15)<<1 + (y^t.Subpage)&1,
		Y:    y,
	}
}

// selectNth partially orders a so that a[k] is the value a full sort would
// put there, and returns it.
func selectNth(a []uint16, k int) uint16 {
	lo, hi := 0, len(a)-1
	for lo < hi {
		pivot := a[lo+(hi-lo)/2]
		i, j := lo, hi
		for i <= j {
			for a[i] < pivot {
				i++
			}
			for a[j] > pivot {
				j--
			}
			if i <= j {
				a[i], a[j] = a[j], a[i]
				i++
				j--
			}
		}
		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return a[k]
		}
	}
	return a[k]
}
