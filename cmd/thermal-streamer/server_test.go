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

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image/jpeg"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/thermal-streamer/acquire"
	"github.com/TheCacophonyProject/thermal-streamer/headers"
	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
	"github.com/TheCacophonyProject/thermal-streamer/throttle"
)

func newTestCamera(t *testing.T) *camera {
	conf := defaultConfig
	conf.Render.Width, conf.Render.Height = 64, 48
	conf.SnapshotDir = t.TempDir()
	conf.Snapshot = throttle.Config{Rate: 1, Burst: 2}
	cam, err := newCamera(&conf, deviceInfo{ID: 7, Name: "test-cam"})
	require.NoError(t, err)
	return cam
}

// publishFrames writes one frame per subpage at the given temperatures.
func publishFrames(cam *camera, temps ...float64) {
	if cam.frames == nil {
		cam.frames = acquire.NewFrameLoop(4)
	}
	for i, c := range temps {
		f := cam.frames.Next()
		f.Subpage = i & 1
		for j := range f.Data {
			f.Data[j] = mlx90640.FromCelsius(c)
		}
		f.UpdateStats(mlx90640.DefaultMonitorArea)
		cam.frames.Move()
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestSnapshotEndpoint(t *testing.T) {
	cam := newTestCamera(t)
	mux := newMux(cam)

	rec := get(t, mux, "/snapshot")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	publishFrames(cam, 25)
	rec = get(t, mux, "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	// the burst of two is used up
	rec = get(t, mux, "/snapshot")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSaveSnapshot(t *testing.T) {
	cam := newTestCamera(t)
	publishFrames(cam, 30)

	path, err := cam.saveSnapshot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cam.snapshotDir, snapshotName), path)
	matches, _ := filepath.Glob(filepath.Join(cam.snapshotDir, "*"))
	assert.Equal(t, []string{path}, matches)
}

func TestJSONEndpoint(t *testing.T) {
	cam := newTestCamera(t)
	publishFrames(cam, 20, 30)

	rec := get(t, newMux(cam), "/json")
	require.Equal(t, http.StatusOK, rec.Code)
	var out summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "test-cam", out.Device)
	assert.Equal(t, "32Hz", out.Stats.Rate)
	assert.Equal(t, 98, out.Stats.Emissivity)
	assert.InDelta(t, 30, out.Stats.Median, 0.01)

	require.Len(t, out.Pixels, mlx90640.Pixels)
	// subpage 0 holds pixel 0, subpage 1 pixel 1
	assert.InDelta(t, 20, out.Pixels[0], 0.01)
	assert.InDelta(t, 30, out.Pixels[1], 0.01)
	// the second row swaps over
	assert.InDelta(t, 30, out.Pixels[32], 0.01)
}

func TestRenderFrameFeedsStream(t *testing.T) {
	cam := newTestCamera(t)
	require.NoError(t, cam.streamer.Start())
	defer cam.streamer.Stop()

	srv := httptest.NewServer(newMux(cam))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return cam.streamer.Clients() == 1 }, time.Second, time.Millisecond)

	publishFrames(cam, 22)
	deadline := time.Now().Add(2 * time.Second)
	for cam.streamer.Frames() < 2 {
		require.True(t, time.Now().Before(deadline), "no frames encoded")
		cam.renderFrame()
		time.Sleep(130 * time.Millisecond)
	}

	r := bufio.NewReader(resp.Body)
	var head bytes.Buffer
	for !bytes.HasSuffix(head.Bytes(), []byte("\r\n\r\n")) {
		b, err := r.ReadByte()
		require.NoError(t, err)
		head.WriteByte(b)
	}
	assert.Contains(t, head.String(), "image/jpeg")
	img, err := jpeg.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestFrameOutput(t *testing.T) {
	cam := newTestCamera(t)
	publishFrames(cam, 27)
	sock := filepath.Join(t.TempDir(), "frames")
	out, err := startFrameOutput(sock, cam.headerInfo)
	require.NoError(t, err)
	defer out.Close()

	conn, err := net.Dial("unixpacket", sock)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)
	h, err := headers.ReadHeaderInfo(r)
	require.NoError(t, err)
	assert.Equal(t, 32, h.ResX())
	assert.Equal(t, mlx90640.FrameBytes, h.FrameSize())
	assert.Equal(t, "test-cam", h.DeviceName())
	assert.Equal(t, 32.0, h.FPS())

	require.Eventually(t, func() bool {
		out.mu.Lock()
		defer out.mu.Unlock()
		return len(out.conns) == 1
	}, time.Second, time.Millisecond)
	out.publish(cam.frames)

	buf := make([]byte, mlx90640.FrameBytes)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	var f mlx90640.TempFrame
	require.NoError(t, f.UnmarshalBinary(buf))
	assert.InDelta(t, 27, mlx90640.ToCelsius(f.Data[100]), 0.01)
}
