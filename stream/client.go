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
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// Boundary separates the images of a multipart stream.
const Boundary = "tlite"

// A client that cannot take an image within this long is dropped.
const frameWriteTimeout = 5 * time.Second

var ErrClosed = errors.New("client closed")

// Client receives a sequence of JPEG images. The writer task calls
// BeginFrame, then Write for each piece of the image and EndFrame once it
// is complete. An image may be abandoned part way, in which case the next
// call is BeginFrame.
type Client interface {
	BeginFrame() error
	Write(p []byte) error
	EndFrame() error
	Close() error
}

// closer tracks when a client has been closed, by either side.
type closer struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newCloser() closer {
	return closer{done: make(chan struct{})}
}

// Done is closed when the client is closed.
func (c *closer) Done() <-chan struct{} {
	return c.done
}

func (c *closer) markClosed() bool {
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

// MultipartClient writes images as parts of a multipart/x-mixed-replace
// HTTP response, which browsers show as a moving picture.
type MultipartClient struct {
	closer
	w    http.ResponseWriter
	rc   *http.ResponseController
	mw   *multipart.Writer
	part io.Writer
}

// NewMultipartClient writes the response header.
func NewMultipartClient(w http.ResponseWriter) (*MultipartClient, error) {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(Boundary); err != nil {
		return nil, err
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", "multipart/x-mixed-replace;boundary="+Boundary)
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return nil, err
	}
	return &MultipartClient{
		closer: newCloser(),
		w:      w,
		rc:     rc,
		mw:     mw,
	}, nil
}

func (c *MultipartClient) BeginFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.rc.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	part, err := c.mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
	if err != nil {
		return err
	}
	c.part = part
	return nil
}

func (c *MultipartClient) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.part == nil {
		return errors.New("write outside of an image")
	}
	_, err := c.part.Write(p)
	return err
}

func (c *MultipartClient) EndFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.part = nil
	if err := c.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Close stops any further writes. The HTTP handler must not return until
// the client is closed.
func (c *MultipartClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markClosed()
	return nil
}

// WebsocketClient sends each image as one binary websocket message.
type WebsocketClient struct {
	closer
	ws  *websocket.Conn
	buf bytes.Buffer
}

func NewWebsocketClient(ws *websocket.Conn) *WebsocketClient {
	ws.PayloadType = websocket.BinaryFrame
	return &WebsocketClient{
		closer: newCloser(),
		ws:     ws,
	}
}

func (c *WebsocketClient) BeginFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.buf.Reset()
	return nil
}

func (c *WebsocketClient) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.buf.Write(p)
	return nil
}

func (c *WebsocketClient) EndFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(frameWriteTimeout)); err != nil {
		return err
	}
	return websocket.Message.Send(c.ws, c.buf.Bytes())
}

func (c *WebsocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.markClosed() {
		return nil
	}
	return c.ws.Close()
}
