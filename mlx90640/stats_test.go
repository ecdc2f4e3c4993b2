package mlx90640

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateStatsFullArea(t *testing.T) {
	tf := &TempFrame{}
	for i := range tf.Data {
		tf.Data[i] = uint16(1000 + i)
	}
	tf.UpdateStats(AreaFull)

	assert.Equal(t, Spot{Temp: 1000, X: 0, Y: 0}, tf.Min)
	assert.Equal(t, Spot{Temp: 1383, X: 31, Y: 23}, tf.Max)
	assert.Equal(t, uint16(1191), tf.Avg)
	assert.Equal(t, uint16(1192), tf.Median)
	assert.Equal(t, uint16(1200), tf.Center)
}

func TestUpdateStatsHotAndColdSpots(t *testing.T) {
	tf := &TempFrame{Subpage: 1}
	for i := range tf.Data {
		tf.Data[i] = 5000
	}
	tf.Data[100] = 9000
	tf.Data[50] = 10
	tf.UpdateStats(AreaFull)

	// cell 100 of subpage 1 is pixel 201
	assert.Equal(t, Spot{Temp: 9000, X: 9, Y: 6}, tf.Max)
	assert.Equal(t, CellPixel(100, 1), tf.Max.Y*Cols+tf.Max.X)
	assert.Equal(t, Spot{Temp: 10, X: CellPixel(50, 1) % Cols, Y: 3}, tf.Min)
	assert.Equal(t, uint16(5000), tf.Median)
}

func TestUpdateStatsFirstExtremeWins(t *testing.T) {
	tf := &TempFrame{}
	for i := range tf.Data {
		tf.Data[i] = 5000
	}
	tf.Data[20] = 6000
	tf.Data[300] = 6000
	tf.UpdateStats(AreaFull)
	assert.Equal(t, 1, tf.Max.Y)
	assert.Equal(t, Spot{Temp: 5000, X: 0, Y: 0}, tf.Min)
}

func TestUpdateStatsSpotArea(t *testing.T) {
	for subpage := 0; subpage < 2; subpage++ {
		tf := &TempFrame{Subpage: subpage}
		for i := range tf.Data {
			tf.Data[i] = 100
		}
		tf.UpdateStats(AreaSpot)
		// two cells at the centre, one per row
		assert.Equal(t, uint16(100), tf.Avg)

		var cells []int
		for i := range tf.Data {
			px := CellPixel(i, subpage)
			x, y := px%Cols, px/Cols
			if x >= 15 && x <= 16 && y >= 11 && y <= 12 {
				cells = append(cells, i)
			}
		}
		require.Len(t, cells, 2)
		tf.Data[cells[0]] = 3000
		tf.Data[cells[1]] = 4000
		tf.UpdateStats(AreaSpot)

		assert.Equal(t, uint16(3000), tf.Min.Temp)
		assert.Equal(t, uint16(4000), tf.Max.Temp)
		assert.Equal(t, uint16(3500), tf.Avg)
		assert.Equal(t, uint16(4000), tf.Median)
		assert.Equal(t, CellPixel(cells[0], subpage), tf.Min.Y*Cols+tf.Min.X)
	}
}

func TestUpdateStatsIgnoresOutsideArea(t *testing.T) {
	tf := &TempFrame{}
	for i := range tf.Data {
		tf.Data[i] = 2000
	}
	// rows 0 and 23 fall outside a 20x16 area
	for i := 0; i < CellsWide; i++ {
		tf.Data[i] = 0
		tf.Data[Cells-1-i] = 60000
	}
	tf.UpdateStats(AreaLarge)
	assert.Equal(t, uint16(2000), tf.Min.Temp)
	assert.Equal(t, uint16(2000), tf.Max.Temp)
	assert.Equal(t, uint16(2000), tf.Avg)
}

func TestSelectNth(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for n := 1; n < 200; n += 7 {
		a := make([]uint16, n)
		for i := range a {
			a[i] = uint16(r.Intn(50))
		}
		sorted := append([]uint16(nil), a...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		k := n / 2
		assert.Equal(t, sorted[k], selectNth(a, k), "n=%d", n)
	}
}

func TestMonitorArea(t *testing.T) {
	a, err := ParseMonitorArea("30x24")
	require.NoError(t, err)
	assert.Equal(t, DefaultMonitorArea, a)
	assert.Equal(t, "30x24", a.String())

	a, err = ParseMonitorArea(" 6X4 ")
	require.NoError(t, err)
	assert.Equal(t, AreaSmall, a)

	for _, s := range []string{"", "30", "axb", "31x24", "32x26", "0x0", "34x24"} {
		_, err := ParseMonitorArea(s)
		assert.Error(t, err, s)
	}
	for _, a := range []MonitorArea{AreaFull, AreaWide, AreaLarge, AreaMedium, AreaSmall, AreaSpot} {
		assert.NoError(t, a.Validate(), a.String())
	}
}
