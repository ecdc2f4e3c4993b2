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

package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
)

func flatFrame(c float64) *mlx90640.TempFrame {
	f := new(mlx90640.TempFrame)
	v := mlx90640.FromCelsius(c)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

func fixedOptions(palette string) Options {
	return Options{Palette: palette, Lower: DefaultLower, Upper: DefaultUpper}
}

func TestPalettes(t *testing.T) {
	assert.Equal(t, []string{"grey", "iron", "rainbow"}, PaletteNames())

	grey, err := PaletteByName(" Grey ")
	require.NoError(t, err)
	assert.Equal(t, RGB565(0, 0, 0), grey.Colour[0])
	assert.Equal(t, RGB565(0xFF, 0xFF, 0xFF), grey.Colour[255])
	assert.Equal(t, RGB565(0x80, 0x80, 0x80), grey.Colour[128])

	rainbow, err := PaletteByName("rainbow")
	require.NoError(t, err)
	assert.Equal(t, RGB565(0xFF, 0, 0), rainbow.Colour[255])
	assert.Equal(t, RGB565(0, 0xFF, 0), rainbow.Colour[144])

	_, err = PaletteByName("sepia")
	assert.Error(t, err)
}

func TestRGB565(t *testing.T) {
	assert.Equal(t, uint16(0xF800), RGB565(0xFF, 0, 0))
	assert.Equal(t, uint16(0x07E0), RGB565(0, 0xFF, 0))
	assert.Equal(t, uint16(0x001F), RGB565(0, 0, 0xFF))
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())
	o := DefaultOptions()
	o.Upper = o.Lower
	assert.Error(t, o.Validate())
	o = DefaultOptions()
	o.Palette = "nope"
	assert.Error(t, o.Validate())

	_, err := New(0, 10, DefaultOptions())
	assert.Error(t, err)
}

func TestFixedRange(t *testing.T) {
	r, err := New(32, 24, fixedOptions("grey"))
	require.NoError(t, err)
	lower, upper := r.Range()
	assert.Equal(t, mlx90640.FromCelsius(20), lower)
	assert.Equal(t, mlx90640.FromCelsius(40), upper)

	grey, _ := PaletteByName("grey")
	dst := make([]uint16, 32*24)
	for _, tc := range []struct {
		temp float64
		idx  int
	}{
		{0, 0},
		{20, 0},
		{30, 127},
		{40, 255},
		{90, 255},
	} {
		f := flatFrame(tc.temp)
		r.Update(f)
		r.Draw(f, dst)
		assert.Equal(t, grey.Colour[tc.idx], dst[0], "%.0fC", tc.temp)
		assert.Equal(t, grey.Colour[tc.idx], dst[len(dst)-1], "%.0fC", tc.temp)
	}
}

func TestInterpolation(t *testing.T) {
	r, err := New(160, 120, fixedOptions("grey"))
	require.NoError(t, err)

	// left half of the cells cold, right half hot
	f := new(mlx90640.TempFrame)
	for i := range f.Data {
		if i%mlx90640.CellsWide < mlx90640.CellsWide/2 {
			f.Data[i] = mlx90640.FromCelsius(20)
		} else {
			f.Data[i] = mlx90640.FromCelsius(40)
		}
	}
	dst := make([]uint16, 160*120)
	r.Draw(f, dst)

	grey, _ := PaletteByName("grey")
	row := dst[60*160 : 61*160]
	assert.Equal(t, grey.Colour[0], row[0])
	assert.Equal(t, grey.Colour[255], row[159])
	// the edge is blended rather than a hard step
	mid := row[80] >> 11
	assert.Greater(t, mid, uint16(4))
	assert.Less(t, mid, uint16(28))
	for x := 1; x < 160; x++ {
		assert.GreaterOrEqual(t, row[x]>>11, row[x-1]>>11)
	}
}

func TestDrawRowsMatchesDraw(t *testing.T) {
	r, err := New(48, 36, fixedOptions("iron"))
	require.NoError(t, err)
	f := new(mlx90640.TempFrame)
	for i := range f.Data {
		f.Data[i] = mlx90640.FromCelsius(15 + float64(i%37))
	}
	full := make([]uint16, 48*36)
	r.Draw(f, full)

	strip := make([]uint16, 8*48)
	for y := 0; y < 36; y += 8 {
		r.DrawRows(f, strip, y, 8)
		rows := min(8, 36-y)
		assert.Equal(t, full[y*48:(y+rows)*48], strip[:rows*48], "rows from %d", y)
	}
}

func TestAutoRangeFollowsScene(t *testing.T) {
	r, err := New(32, 24, DefaultOptions())
	require.NoError(t, err)

	f := flatFrame(25)
	f.Data[0] = mlx90640.FromCelsius(35)
	r.Update(f)
	lower, upper := r.Range()
	assert.Less(t, lower, mlx90640.FromCelsius(25))
	assert.Greater(t, upper, mlx90640.FromCelsius(35))

	// the scene warms up; the range eases over rather than jumping
	hot := flatFrame(45)
	hot.Data[0] = mlx90640.FromCelsius(55)
	r.Update(hot)
	l1, _ := r.Range()
	assert.Less(t, l1, mlx90640.FromCelsius(44))
	for i := 0; i < 100; i++ {
		r.Update(hot)
	}
	lower, upper = r.Range()
	assert.InDelta(t, mlx90640.FromCelsius(45)-81, lower, 2)
	assert.InDelta(t, mlx90640.FromCelsius(55)+81, upper, 2)
}

func TestSmootherIgnoresSmallChanges(t *testing.T) {
	var s smoother
	s.set(10000)
	assert.Equal(t, int32(10000), s.exec(10050, 100))
	assert.Equal(t, int32(10000), s.exec(9950, 100))
}

func TestSmootherConverges(t *testing.T) {
	var s smoother
	s.set(10752)
	prev := int32(10752)
	for i := 0; i < 60; i++ {
		v := s.exec(13000, 100)
		assert.GreaterOrEqual(t, v, prev)
		assert.LessOrEqual(t, v, int32(13000))
		prev = v
	}
	assert.InDelta(t, 13000, prev, 1)
}

func TestSwitchingToFixedRange(t *testing.T) {
	r, err := New(32, 24, DefaultOptions())
	require.NoError(t, err)
	r.Update(flatFrame(60))

	require.NoError(t, r.SetOptions(fixedOptions("iron")))
	r.Update(flatFrame(60))
	lower, upper := r.Range()
	assert.Equal(t, mlx90640.FromCelsius(20), lower)
	assert.Equal(t, mlx90640.FromCelsius(40), upper)
	assert.False(t, r.Options().AutoRange)
}
