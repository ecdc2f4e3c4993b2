package mlx90640

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVddAndTa(t *testing.T) {
	p := testParams(t)
	f := testFrame(0, 0)

	assert.InDelta(t, 3.3186, p.Vdd(f), 0.0005)
	assert.InDelta(t, 40.6, p.Ta(f), 0.05)
	assert.InDelta(t, p.Ta(f)-TaShift, p.Tr(f), 1e-9)
}

func calcUniform(t *testing.T, p *Params, subpage int, raw int16, emissivity float64) *TempFrame {
	f := testFrame(subpage, raw)
	out := new(TempFrame)
	p.CalculateTo(f, emissivity, p.Tr(f), out, nil, 0)
	require.Equal(t, subpage, out.Subpage)
	return out
}

func TestCalculateToKnownPoints(t *testing.T) {
	p := testParams(t)
	for _, c := range []struct {
		raw  int16
		want float64
	}{
		{-300, 8.7},
		{-200, 26.6},
		{-100, 42.2},
		{0, 56.1},
		{100, 68.7},
		{300, 90.9},
	} {
		out := calcUniform(t, p, 0, c.raw, 1)
		assert.InDelta(t, c.want, ToCelsius(out.Data[0]), 0.2, "raw %d", c.raw)
		assert.InDelta(t, c.want, ToCelsius(out.Data[Cells-1]), 0.2, "raw %d", c.raw)
	}
}

func TestCalculateToIsMonotonic(t *testing.T) {
	p := testParams(t)
	last := uint16(0)
	for raw := int16(-400); raw <= 1000; raw += 50 {
		out := calcUniform(t, p, 1, raw, 1)
		assert.Greater(t, out.Data[100], last, "raw %d", raw)
		last = out.Data[100]
	}
}

func TestCalculateToUniformFrame(t *testing.T) {
	p := testParams(t)
	for subpage := 0; subpage < 2; subpage++ {
		out := calcUniform(t, p, subpage, -60, 1)
		for i := 1; i < Cells; i++ {
			require.Equal(t, out.Data[0], out.Data[i], "cell %d of subpage %d", i, subpage)
		}
	}
}

func TestCalculateToEmissivity(t *testing.T) {
	p := testParams(t)
	black := calcUniform(t, p, 0, 300, 1)
	grey := calcUniform(t, p, 0, 300, 0.9)
	// a warm object with lower emissivity is hotter than it looks
	assert.Greater(t, grey.Data[0], black.Data[0])
}

func TestCalculateToOnlyReadsItsSubpage(t *testing.T) {
	p := testParams(t)
	f := testFrame(1, 0)
	for px := 0; px < Pixels; px++ {
		il := (px >> 5) & 1
		if px&1 != il^1 {
			f[px] = uint16(int16(30000))
		}
	}
	out := new(TempFrame)
	p.CalculateTo(f, 1, p.Tr(f), out, nil, 0)
	want := calcUniform(t, p, 1, 0, 1)
	assert.Equal(t, want.Data, out.Data)
}

func TestCalculateToInterpolatesBrokenPixelsFromPrevious(t *testing.T) {
	ee := testEEPROM()
	// corner, edge and interior cells of subpage 0
	ee[64+0] = 0
	ee[64+2] = 0
	ee[64+68] = 0
	p, warn, err := ExtractParams(ee)
	require.NoError(t, err)
	require.Equal(t, WarnNone, warn)
	require.Equal(t, 68, CellPixel(34, 0))

	prev := new(TempFrame)
	for i := range prev.Data {
		prev.Data[i] = uint16(i * 10)
	}
	f := testFrame(0, 0)
	out := new(TempFrame)
	p.CalculateTo(f, 1, p.Tr(f), out, prev, 0)

	assert.Equal(t, uint16((10+160)/2), out.Data[0])
	assert.Equal(t, uint16((0+20+170)/3), out.Data[1])
	assert.Equal(t, uint16((330+350+180+500)/4), out.Data[34])

	good := calcUniform(t, p, 0, 0, 1).Data[5]
	assert.Equal(t, good, out.Data[5])
}

func TestCalculateToInterpolatesBrokenPixelsWithoutPrevious(t *testing.T) {
	ee := testEEPROM()
	ee[64+0] = 0
	ee[64+400] = 0x0001
	p, _, err := ExtractParams(ee)
	require.NoError(t, err)

	out := calcUniform(t, p, 0, -100, 1)
	want := out.Data[50]
	assert.Equal(t, want, out.Data[0])
	assert.Equal(t, want, out.Data[200])

	// pixel 0 is not part of subpage 1 so the cell is computed
	out = calcUniform(t, p, 1, -100, 1)
	assert.Equal(t, out.Data[50], out.Data[0])
}

func TestClampTemp(t *testing.T) {
	assert.Equal(t, 0, clampTemp(math.NaN()))
	assert.Equal(t, 0, clampTemp(-5))
	assert.Equal(t, 1234, clampTemp(1234))
	assert.Equal(t, 65535, clampTemp(70000))
}

func TestNeighbourMean(t *testing.T) {
	var data [Cells]uint16
	for i := range data {
		data[i] = 100
	}
	data[Cells-2] = 400
	data[Cells-1-CellsWide] = 700
	// bottom right corner
	assert.Equal(t, uint16(550), neighbourMean(&data, Cells-1))
	// left edge
	data[16] = 0
	assert.Equal(t, uint16(66), neighbourMean(&data, 32))
}

func TestCelsiusConversion(t *testing.T) {
	assert.Equal(t, uint16(64*128), FromCelsius(0))
	assert.Equal(t, 0.0, ToCelsius(FromCelsius(0)))
	assert.InDelta(t, 36.6, ToCelsius(FromCelsius(36.6)), 1.0/DataRatio)
	assert.Equal(t, uint16(0), FromCelsius(-100))
	assert.Equal(t, uint16(65535), FromCelsius(500))
}
