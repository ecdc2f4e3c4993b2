package mlx90640

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterLevel(t *testing.T) {
	assert.Equal(t, 339, FilterLevel(Rate32Hz, 15))
	assert.Equal(t, 2, FilterLevel(Rate0_5Hz, 1))
	assert.Equal(t, 32, FilterLevel(Rate64Hz, 1))
	for r := Rate0_5Hz; r <= Rate64Hz; r++ {
		assert.Equal(t, 0, FilterLevel(r, 0), r.String())
	}
	// strength above 15 wraps like the 4 bit setting
	assert.Equal(t, FilterLevel(Rate8Hz, 1), FilterLevel(Rate8Hz, 17))
}

func TestNoiseThreshold(t *testing.T) {
	// the centre has no extra noise
	assert.Equal(t, 96, NoiseThreshold(13*Cols+15, 256))
	// corners
	assert.Equal(t, (256*(96+193))>>8, NoiseThreshold(0, 256))
	assert.Equal(t, (256*(96+255))>>8, NoiseThreshold(Cols-1, 256))
	assert.Equal(t, 0, NoiseThreshold(0, 0))

	for px := 0; px < Pixels; px++ {
		th := NoiseThreshold(px, 339)
		assert.True(t, th >= (339*96)>>8 && th <= (339*(96+255))>>8, "pixel %d: %d", px, th)
	}
}

func TestFilterCell(t *testing.T) {
	assert.Equal(t, 990, filterCell(1000, 990, 20))
	assert.Equal(t, 990, filterCell(970, 990, 20))
	assert.Equal(t, 980, filterCell(1000, 900, 20))
	assert.Equal(t, 920, filterCell(900, 1000, 20))
	assert.Equal(t, 1000, filterCell(1000, 1000, 0))
}

func TestFilterHoldsSmallChanges(t *testing.T) {
	p := testParams(t)
	level := FilterLevel(Rate32Hz, 15)

	prev := calcUniform(t, p, 0, 0, 1)
	f := testFrame(0, 1)
	out := new(TempFrame)
	p.CalculateTo(f, 1, p.Tr(f), out, prev, level)
	assert.Equal(t, prev.Data, out.Data)
}

func TestFilterFollowsLargeChanges(t *testing.T) {
	p := testParams(t)
	level := FilterLevel(Rate32Hz, 15)

	prev := calcUniform(t, p, 0, 0, 1)
	hot := calcUniform(t, p, 0, 300, 1)
	f := testFrame(0, 300)
	out := new(TempFrame)
	p.CalculateTo(f, 1, p.Tr(f), out, prev, level)

	for i := 0; i < Cells; i++ {
		px := CellPixel(i, 0)
		assert.Equal(t, int(hot.Data[i])-NoiseThreshold(px, level), int(out.Data[i]), "cell %d", i)
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	p := testParams(t)
	level := FilterLevel(Rate16Hz, 8)
	prev := calcUniform(t, p, 1, -50, 1)

	f := testFrame(1, 200)
	first := new(TempFrame)
	p.CalculateTo(f, 1, p.Tr(f), first, prev, level)
	second := new(TempFrame)
	p.CalculateTo(f, 1, p.Tr(f), second, prev, level)
	assert.Equal(t, first.Data, second.Data)
}

func TestApplyNoiseFilterMatchesInlineFilter(t *testing.T) {
	p := testParams(t)
	level := FilterLevel(Rate32Hz, 10)
	prev := calcUniform(t, p, 0, 20, 1)

	f := testFrame(0, 120)
	inline := new(TempFrame)
	p.CalculateTo(f, 1, p.Tr(f), inline, prev, level)

	after := calcUniform(t, p, 0, 120, 1)
	ApplyNoiseFilter(after, prev, level)
	assert.Equal(t, inline.Data, after.Data)

	unfiltered := calcUniform(t, p, 0, 120, 1)
	ApplyNoiseFilter(unfiltered, prev, 0)
	assert.Equal(t, calcUniform(t, p, 0, 120, 1).Data, unfiltered.Data)
}
