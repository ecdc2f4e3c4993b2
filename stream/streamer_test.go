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

package stream

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/thermal-streamer/jpegenc"
)

type fakeClient struct {
	mu       sync.Mutex
	frames   [][]byte
	cur      bytes.Buffer
	writeErr error
	closed   bool
}

func (c *fakeClient) BeginFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur.Reset()
	return nil
}

func (c *fakeClient) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.cur.Write(p)
	return nil
}

func (c *fakeClient) EndFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), c.cur.Bytes()...))
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeClient) frame(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i]
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newStreamer(t *testing.T) *Streamer {
	s, err := NewStreamer(jpegenc.Params{Quality: DefaultQuality, Subsampling: jpegenc.H2V2})
	require.NoError(t, err)
	return s
}

// startWriter runs only the writer task so the test drives ProcessCapture.
func startWriter(t *testing.T, s *Streamer) {
	s.started = true
	s.tomb.Go(s.writeLoop)
	t.Cleanup(func() { assert.NoError(t, s.Stop()) })
}

func queueStrip(t *testing.T, s *Streamer, y, rows, w, h int, colour uint16) {
	st := s.GetStrip(y, rows, w, h)
	require.NotNil(t, st)
	for i := range st.Pix {
		st.Pix[i] = colour
	}
	require.True(t, s.AddQueue(st))
}

func sendFrame(t *testing.T, s *Streamer, w, h, rows int, colour uint16) []Result {
	require.True(t, s.InitCapture(w, h))
	return encodeStrips(t, s, w, h, rows, colour)
}

func encodeStrips(t *testing.T, s *Streamer, w, h, rows int, colour uint16) []Result {
	var res []Result
	for y := 0; y < h; y += rows {
		queueStrip(t, s, y, min(rows, h-y), w, h, colour)
		res = append(res, s.ProcessCapture())
	}
	return res
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestNothingQueued(t *testing.T) {
	s := newStreamer(t)
	assert.Equal(t, Nothing, s.ProcessCapture())
	assert.False(t, s.InitCapture(16, 16))
}

func TestStreamFrameToClient(t *testing.T) {
	s := newStreamer(t)
	startWriter(t, s)
	c := new(fakeClient)
	require.NoError(t, s.RequestScreenshot(c))

	// 20 rows in strips of 8 leaves a short last strip
	assert.Equal(t, []Result{Progress, Progress, Complete}, sendFrame(t, s, 24, 20, 8, 0xF800))
	require.Eventually(t, func() bool { return c.frameCount() == 1 }, time.Second, time.Millisecond)

	img := decodeJPEG(t, c.frame(0))
	assert.Equal(t, image.Rect(0, 0, 24, 20), img.Bounds())
	r, g, b, _ := img.At(10, 10).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
	assert.Less(t, b>>8, uint32(60))
	assert.Equal(t, uint64(1), s.Frames())

	// the client stays attached for the next frame
	assert.True(t, s.InitCapture(24, 20))
	sendFrame(t, s, 24, 20, 8, 0x001F)
	require.Eventually(t, func() bool { return c.frameCount() == 2 }, time.Second, time.Millisecond)
}

func TestQualityChangeAppliesToNextImage(t *testing.T) {
	s := newStreamer(t)
	startWriter(t, s)
	c := new(fakeClient)
	require.NoError(t, s.RequestScreenshot(c))

	sendFrame(t, s, 16, 16, 16, 0x07E0)
	assert.Error(t, s.SetQuality(0))
	require.NoError(t, s.SetQuality(95))
	sendFrame(t, s, 16, 16, 16, 0x07E0)
	require.Eventually(t, func() bool { return c.frameCount() == 2 }, time.Second, time.Millisecond)
	// different DQT tables
	assert.NotEqual(t, c.frame(0), c.frame(1))
	decodeJPEG(t, c.frame(1))
}

func TestNoClientSkipsFrame(t *testing.T) {
	s := newStreamer(t)
	startWriter(t, s)

	queueStrip(t, s, 0, 8, 16, 16, 0)
	assert.Equal(t, Nothing, s.ProcessCapture())
	queueStrip(t, s, 8, 8, 16, 16, 0)
	assert.Equal(t, Nothing, s.ProcessCapture())
	assert.Zero(t, s.Frames())
}

func TestMissingStripAbandonsImage(t *testing.T) {
	s := newStreamer(t)
	startWriter(t, s)
	c := new(fakeClient)
	require.NoError(t, s.RequestScreenshot(c))

	queueStrip(t, s, 0, 8, 16, 32, 0)
	assert.Equal(t, Progress, s.ProcessCapture())
	queueStrip(t, s, 16, 8, 16, 32, 0)
	assert.Equal(t, Error, s.ProcessCapture())
	queueStrip(t, s, 24, 8, 16, 32, 0)
	assert.Equal(t, Nothing, s.ProcessCapture())

	// the next frame starts cleanly
	assert.Equal(t, []Result{Progress, Progress, Progress, Complete}, sendFrame(t, s, 16, 32, 8, 0))
	require.Eventually(t, func() bool { return c.frameCount() == 1 }, time.Second, time.Millisecond)
	decodeJPEG(t, c.frame(0))
}

func TestAddQueueTimesOut(t *testing.T) {
	s := newStreamer(t)
	c := new(fakeClient)
	require.NoError(t, s.RequestScreenshot(c))
	require.True(t, s.InitCapture(16, 16))

	queueStrip(t, s, 0, 8, 16, 16, 0)
	st := s.GetStrip(8, 8, 16, 16)
	require.NotNil(t, st)
	start := time.Now()
	assert.False(t, s.AddQueue(st))
	assert.GreaterOrEqual(t, int64(time.Since(start)), int64(addQueueWait))
	assert.Equal(t, uint64(1), s.Dropped())

	// the capture is re-armed for the next frame
	assert.True(t, s.InitCapture(16, 16))
}

func TestStripsAreRecycled(t *testing.T) {
	s := newStreamer(t)
	var strips []*Strip
	for i := 0; i < maxStrips; i++ {
		st := s.GetStrip(0, 4, 8, 8)
		require.NotNil(t, st)
		strips = append(strips, st)
	}
	assert.Nil(t, s.GetStrip(0, 4, 8, 8))

	s.release(strips[0])
	st := s.GetStrip(4, 2, 8, 8)
	require.NotNil(t, st)
	assert.Same(t, strips[0], st)
	assert.Len(t, st.Pix, 16)
	assert.Equal(t, 4, st.Y)
}

func TestClientsTakeTurns(t *testing.T) {
	s := newStreamer(t)
	startWriter(t, s)
	c1, c2 := new(fakeClient), new(fakeClient)
	require.NoError(t, s.RequestScreenshot(c1))
	require.NoError(t, s.RequestScreenshot(c2))
	assert.Equal(t, 2, s.Clients())

	for i := 0; i < 3; i++ {
		sendFrame(t, s, 16, 16, 16, 0)
	}
	require.Eventually(t, func() bool {
		return c1.frameCount() == 2 && c2.frameCount() == 1
	}, time.Second, time.Millisecond)
}

func TestFailingClientIsDropped(t *testing.T) {
	s := newStreamer(t)
	startWriter(t, s)
	c := &fakeClient{writeErr: errors.New("broken pipe")}
	require.NoError(t, s.RequestScreenshot(c))

	// encoding carries on even though nobody receives it
	assert.Equal(t, []Result{Complete}, sendFrame(t, s, 16, 16, 16, 0))
	require.Eventually(t, c.isClosed, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Clients() == 0 }, time.Second, time.Millisecond)
	assert.False(t, s.InitCapture(16, 16))
}

func TestTooManyClients(t *testing.T) {
	s := newStreamer(t)
	for i := 0; i < clientQueue; i++ {
		require.NoError(t, s.RequestScreenshot(new(fakeClient)))
	}
	assert.Equal(t, ErrTooManyClients, s.RequestScreenshot(new(fakeClient)))
}

func TestStopClosesClients(t *testing.T) {
	s := newStreamer(t)
	require.NoError(t, s.Start())
	c1, c2 := new(fakeClient), new(fakeClient)
	require.NoError(t, s.RequestScreenshot(c1))
	require.NoError(t, s.RequestScreenshot(c2))

	require.NoError(t, s.Stop())
	assert.True(t, c1.isClosed())
	assert.True(t, c2.isClosed())
	assert.Zero(t, s.Clients())
	assert.Error(t, s.Start())
}

func TestEncodeTaskProcessesQueuedStrips(t *testing.T) {
	s := newStreamer(t)
	require.NoError(t, s.Start())
	defer func() { assert.NoError(t, s.Stop()) }()
	c := new(fakeClient)
	require.NoError(t, s.RequestScreenshot(c))

	require.True(t, s.InitCapture(16, 16))
	for y := 0; y < 16; y += 4 {
		queueStrip(t, s, y, 4, 16, 16, 0xFFFF)
	}
	require.Eventually(t, func() bool { return c.frameCount() == 1 }, time.Second, time.Millisecond)
	decodeJPEG(t, c.frame(0))
}
