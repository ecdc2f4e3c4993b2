package mlx90640

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempFrameBinary(t *testing.T) {
	f := &TempFrame{
		Subpage: 1,
		Min:     Spot{Temp: FromCelsius(18.5), X: 3, Y: 20},
		Max:     Spot{Temp: FromCelsius(36.25), X: 31, Y: 0},
		Avg:     FromCelsius(22),
		Median:  FromCelsius(21.5),
		Center:  FromCelsius(30),
	}
	for i := range f.Data {
		f.Data[i] = uint16(9000 + i*7)
	}

	b, err := f.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, FrameBytes)
	// subpage first, low byte first
	assert.Equal(t, []byte{1, 0}, b[:2])

	var got TempFrame
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, *f, got)

	assert.Error(t, got.UnmarshalBinary(b[:FrameBytes-1]))
}
