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
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func waitForClients(t *testing.T, s *Streamer, n int) {
	require.Eventually(t, func() bool { return s.Clients() == n }, time.Second, time.Millisecond)
}

func TestMultipartStream(t *testing.T) {
	s := newStreamer(t)
	startWriter(t, s)
	srv := httptest.NewServer(MultipartHandler(s))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	assert.Equal(t, Boundary, params["boundary"])

	waitForClients(t, s, 1)
	// a part only ends when the next boundary arrives
	sendFrame(t, s, 16, 16, 8, 0x07E0)
	sendFrame(t, s, 16, 16, 8, 0x07E0)

	mr := multipart.NewReader(resp.Body, Boundary)
	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
	data, err := io.ReadAll(part)
	require.NoError(t, err)
	img := decodeJPEG(t, data)
	_, g, _, _ := img.At(8, 8).RGBA()
	assert.Greater(t, g>>8, uint32(200))
}

func TestMultipartClientGone(t *testing.T) {
	s := newStreamer(t)
	startWriter(t, s)
	srv := httptest.NewServer(MultipartHandler(s))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	waitForClients(t, s, 1)
	resp.Body.Close()

	// the writer notices on the next image
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != 0 {
		require.True(t, time.Now().Before(deadline), "client not dropped")
		encodeStrips(t, s, 16, 16, 16, 0)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebsocketStream(t *testing.T) {
	s := newStreamer(t)
	startWriter(t, s)
	srv := httptest.NewServer(WebsocketHandler(s))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	defer ws.Close()
	waitForClients(t, s, 1)

	sendFrame(t, s, 32, 24, 8, 0x001F)
	var data []byte
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, websocket.Message.Receive(ws, &data))
	img := decodeJPEG(t, data)
	assert.Equal(t, 32, img.Bounds().Dx())
	_, _, b, _ := img.At(16, 12).RGBA()
	assert.Greater(t, b>>8, uint32(200))
}
