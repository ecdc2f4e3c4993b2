package jpegenc

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rgb565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

func fill(w, h int, f func(x, y int) uint16) []uint16 {
	pix := make([]uint16, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pix[y*w+x] = f(x, y)
		}
	}
	return pix
}

func encode(t *testing.T, pix []uint16, w, h int, p Params) []byte {
	var buf bytes.Buffer
	require.NoError(t, Encode565(&buf, pix, w, h, p))
	return buf.Bytes()
}

func decode(t *testing.T, data []byte) image.Image {
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func rgbAt(img image.Image, x, y int) (int, int, int) {
	r, g, b, _ := img.At(x, y).RGBA()
	return int(r >> 8), int(g >> 8), int(b >> 8)
}

// recordSink keeps every buffer it is given.
type recordSink struct {
	bufs  [][]byte
	ends  int
	fail  error
	calls int
}

func (s *recordSink) PutBuf(buf []byte) error {
	s.calls++
	if s.fail != nil {
		return s.fail
	}
	if buf == nil {
		s.ends++
		return nil
	}
	s.bufs = append(s.bufs, append([]byte(nil), buf...))
	return nil
}

func (s *recordSink) bytes() []byte {
	return bytes.Join(s.bufs, nil)
}

func TestFlatGrey(t *testing.T) {
	grey := rgb565(128, 128, 128)
	pix := fill(16, 16, func(x, y int) uint16 { return grey })
	img := decode(t, encode(t, pix, 16, 16, Params{Quality: 90, Subsampling: H2V2}))

	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			r, g, b := rgbAt(img, x, y)
			assert.InDelta(t, 132, r, 3)
			assert.InDelta(t, 130, g, 3)
			assert.InDelta(t, 132, b, 3)
		}
	}
}

func TestAllSubsamplingsDecode(t *testing.T) {
	// odd sizes need padding on both axes
	const w, h = 37, 21
	pix := fill(w, h, func(x, y int) uint16 {
		return rgb565(uint8(x*6), uint8(y*12), 200)
	})
	for _, s := range []Subsampling{YOnly, H1V1, H2V1, H2V2} {
		t.Run(s.String(), func(t *testing.T) {
			img := decode(t, encode(t, pix, w, h, Params{Quality: 95, Subsampling: s}))
			assert.Equal(t, image.Rect(0, 0, w, h), img.Bounds())
			if s == YOnly {
				_, ok := img.(*image.Gray)
				assert.True(t, ok)
				return
			}
			var errSum int
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					r, g, _ := rgbAt(img, x, y)
					errSum += abs(r-x*6) + abs(g-y*12)
				}
			}
			assert.Less(t, errSum/(w*h*2), 12)
		})
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// markers lists the marker codes before the entropy coded data, then the
// last one in the stream.
func markers(t *testing.T, data []byte) []byte {
	var out []byte
	i := 0
	for {
		require.Less(t, i+3, len(data))
		require.Equal(t, byte(0xFF), data[i])
		m := data[i+1]
		out = append(out, m)
		if m == markerSOI {
			i += 2
			continue
		}
		i += 2 + int(data[i+2])<<8 + int(data[i+3])
		if m == markerSOS {
			break
		}
	}
	require.Equal(t, byte(0xFF), data[len(data)-2])
	return append(out, data[len(data)-1])
}

func TestMarkerSequence(t *testing.T) {
	pix := fill(8, 8, func(x, y int) uint16 { return 0 })
	assert.Equal(t,
		[]byte{markerSOI, markerAPP0, markerDQT, markerDQT, markerSOF0,
			markerDHT, markerDHT, markerDHT, markerDHT, markerSOS, markerEOI},
		markers(t, encode(t, pix, 8, 8, Params{Quality: 60, Subsampling: H2V2})))
	assert.Equal(t,
		[]byte{markerSOI, markerAPP0, markerDQT, markerSOF0,
			markerDHT, markerDHT, markerSOS, markerEOI},
		markers(t, encode(t, pix, 8, 8, Params{Quality: 60, Subsampling: YOnly})))
}

func TestScanDataIsStuffed(t *testing.T) {
	// noise at full quality gives plenty of 0xFF bytes
	seed := uint32(1)
	pix := fill(64, 64, func(x, y int) uint16 {
		seed = seed*1103515245 + 12345
		return uint16(seed >> 16)
	})
	data := encode(t, pix, 64, 64, Params{Quality: 100, Subsampling: H1V1})

	start := 0
	for i := 0; i+1 < len(data); i++ {
		if data[i] == 0xFF && data[i+1] == markerSOS {
			start = i + 2 + int(data[i+2])<<8 + int(data[i+3])
			break
		}
	}
	require.NotZero(t, start)
	scan := data[start : len(data)-2]
	ffs := bytes.Count(scan, []byte{0xFF})
	assert.NotZero(t, ffs)
	assert.Equal(t, ffs, bytes.Count(scan, []byte{0xFF, 0x00}))
	decode(t, data)
}

func TestPutBitsStuffsEveryFF(t *testing.T) {
	sink := &recordSink{}
	var e Encoder
	e.sink = sink
	e.bitsIn = 32
	e.putBits(0xFFFF, 16)
	e.putBits(0x00, 8)
	e.flush()
	assert.Equal(t, []byte{0xFF, 0x00, 0xFF, 0x00, 0x00}, sink.bytes())
}

func TestOutputRing(t *testing.T) {
	seed := uint32(7)
	pix := fill(96, 96, func(x, y int) uint16 {
		seed = seed*1103515245 + 12345
		return uint16(seed >> 16)
	})
	sink := &recordSink{}
	var e Encoder
	require.NoError(t, e.Init(sink, 96, 96, Params{Quality: 90, Subsampling: H1V1}))
	for y := 0; y < 96; y++ {
		require.True(t, e.ProcessScanline565(pix[y*96:(y+1)*96]))
	}
	require.True(t, e.Finish())

	require.Greater(t, len(sink.bufs), outBufCount)
	for _, b := range sink.bufs[:len(sink.bufs)-1] {
		assert.Len(t, b, outBufSize)
	}
	assert.Equal(t, 1, sink.ends)
	decode(t, sink.bytes())
}

func TestSinkErrorLatches(t *testing.T) {
	sink := &recordSink{fail: errors.New("client gone")}
	var e Encoder
	// the headers fit in one buffer, so the failure shows on the first flush
	require.NoError(t, e.Init(sink, 64, 64, Params{Quality: 100, Subsampling: H1V1}))

	line := make([]uint16, 64)
	var failed bool
	for y := 0; y < 64 && !failed; y++ {
		for x := range line {
			line[x] = uint16(x*y*977 + y)
		}
		failed = !e.ProcessScanline565(line)
	}
	require.True(t, failed)
	assert.EqualError(t, e.Err(), "client gone")
	assert.Equal(t, 1, sink.calls)

	assert.False(t, e.ProcessScanline565(line))
	assert.False(t, e.Finish())
	assert.Equal(t, 1, sink.calls)

	// a new image starts clean
	sink.fail = nil
	require.NoError(t, e.Reinit(100))
	assert.NoError(t, e.Err())
}

func TestPassWindow(t *testing.T) {
	var e Encoder
	line := make([]uint16, 8)
	assert.False(t, e.ProcessScanline565(line))
	assert.False(t, e.Finish())
	assert.Equal(t, ErrNotInitialised, e.Reinit(50))

	sink := &recordSink{}
	require.NoError(t, e.Init(sink, 8, 2, Params{Quality: 50, Subsampling: H1V1}))
	assert.False(t, e.ProcessScanline565(line[:4]), "short line")
	assert.True(t, e.ProcessScanline565(line))
	assert.True(t, e.ProcessScanline565(line))
	assert.False(t, e.ProcessScanline565(line), "too many lines")
	assert.True(t, e.Finish())
	assert.False(t, e.ProcessScanline565(line))
	assert.False(t, e.Finish())
	decode(t, sink.bytes())

	sink.bufs = nil
	require.NoError(t, e.Reinit(80))
	assert.True(t, e.ProcessScanline565(line))
	assert.True(t, e.ProcessScanline565(line))
	assert.True(t, e.Finish())
	assert.Equal(t, 2, sink.ends)
	decode(t, sink.bytes())
}

func TestInitValidation(t *testing.T) {
	var e Encoder
	sink := &recordSink{}
	assert.Equal(t, ErrNoSink, e.Init(nil, 8, 8, Params{Quality: 50}))
	assert.Error(t, e.Init(sink, 0, 8, Params{Quality: 50}))
	assert.Error(t, e.Init(sink, 8, 70000, Params{Quality: 50}))
	assert.Error(t, e.Init(sink, 8, 8, Params{Quality: 0}))
	assert.Error(t, e.Init(sink, 8, 8, Params{Quality: 50, Subsampling: 9}))
	assert.Zero(t, sink.calls)
}

func TestQuantTable(t *testing.T) {
	assert.Equal(t, stdLumaQuant, quantTable(&stdLumaQuant, 50))

	best := quantTable(&stdLumaQuant, 100)
	for _, q := range best {
		assert.Equal(t, uint8(1), q)
	}

	worst := quantTable(&stdChromaQuant, 1)
	for _, q := range worst {
		assert.Equal(t, uint8(255), q)
	}

	q10 := quantTable(&stdLumaQuant, 10)
	assert.Equal(t, uint8(80), q10[0])
}

func TestQualityChangesSize(t *testing.T) {
	pix := fill(16, 16, func(x, y int) uint16 { return rgb565(uint8(x*16), 0, uint8(y*16)) })
	low := encode(t, pix, 16, 16, Params{Quality: 10, Subsampling: H2V2})
	high := encode(t, pix, 16, 16, Params{Quality: 95, Subsampling: H2V2})
	assert.Less(t, len(low), len(high))
}

func TestHuffmanCodes(t *testing.T) {
	dc, ac := huffmanTables()
	// the luma DC table starts with the two bit code 00 for category 0
	assert.Equal(t, huffCode{code: 0, size: 2}, dc[0][0])
	assert.Equal(t, huffCode{code: 0x1FE, size: 9}, dc[0][11])
	// end of block and zero run
	assert.Equal(t, huffCode{code: 0xA, size: 4}, ac[0][0x00])
	assert.Equal(t, huffCode{code: 0x7F9, size: 11}, ac[0][0xF0])
}

func TestMagnitude(t *testing.T) {
	for _, c := range []struct {
		v    int32
		n    uint
		bits uint32
	}{
		{0, 0, 0},
		{1, 1, 1},
		{-1, 1, 0},
		{5, 3, 5},
		{-5, 3, 2},
		{-1023, 10, 0},
	} {
		n, bits := magnitude(c.v)
		assert.Equal(t, c.n, n, "%d", c.v)
		assert.Equal(t, c.bits, bits, "%d", c.v)
	}
}

func TestGreyRGB565Expansion(t *testing.T) {
	y, cb, cr := rgb565ToYCC(0xFFFF)
	assert.Equal(t, int32(255), y)
	assert.Equal(t, int32(128), cb)
	assert.Equal(t, int32(128), cr)

	y, _, _ = rgb565ToYCC(0)
	assert.Equal(t, int32(0), y)
}

func TestParseSubsampling(t *testing.T) {
	for s := YOnly; s <= H2V2; s++ {
		got, err := ParseSubsampling(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	got, err := ParseSubsampling(" h2v1")
	require.NoError(t, err)
	assert.Equal(t, H2V1, got)
	_, err = ParseSubsampling("4:2:0")
	assert.Error(t, err)
}
