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

// Package stream encodes rendered canvases to JPEG and sends them to the
// connected viewers. Three bounded queues connect the renderer, the
// encoder and the socket writer so a slow viewer never holds up rendering.
package stream

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/TheCacophonyProject/thermal-streamer/jpegenc"
	tomb "gopkg.in/tomb.v2"
)

const (
	DefaultQuality = 60

	canvasQueue = 1
	dataQueue   = 2
	clientQueue = 4

	// Strips in circulation: one being rendered, one queued and one being
	// encoded.
	maxStrips = 3

	addQueueWait = 64 * time.Millisecond
)

var ErrTooManyClients = errors.New("too many clients waiting")

// Result says what ProcessCapture did.
type Result int

const (
	Nothing Result = iota
	Error
	Progress
	Complete
)

func (r Result) String() string {
	switch r {
	case Nothing:
		return "nothing"
	case Error:
		return "error"
	case Progress:
		return "progress"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Strip is a band of rows from an RGB565 canvas, starting at row Y.
type Strip struct {
	Y           int
	Rows        int
	Width       int
	FrameHeight int
	Pix         []uint16
}

// Line returns row i of the strip.
func (s *Strip) Line(i int) []uint16 {
	return s.Pix[i*s.Width : (i+1)*s.Width]
}

// span is one piece of output for the writer. begin starts a new image
// and end finishes it; neither carries data.
type span struct {
	buf   []byte
	begin bool
	end   bool
}

// Streamer moves canvas strips through the encoder to the clients. The
// renderer calls InitCapture, GetStrip and AddQueue; the encoder side
// calls ProcessCapture (or runs it through Start); the writer task owns
// the clients.
type Streamer struct {
	canvasCh chan *Strip
	dataCh   chan span
	clientCh chan Client
	free     chan *Strip

	requested atomic.Bool
	clients   atomic.Int32
	quality   atomic.Int32
	allocated int

	// encoder side
	enc         jpegenc.Encoder
	subsampling jpegenc.Subsampling
	encW, encH  int
	y           int
	active      bool

	tomb    *tomb.Tomb
	started bool
	logFunc func(string)

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// NewStreamer returns a Streamer that encodes with the given settings.
func NewStreamer(p jpegenc.Params) (*Streamer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &Streamer{
		canvasCh:    make(chan *Strip, canvasQueue),
		dataCh:      make(chan span, dataQueue),
		clientCh:    make(chan Client, clientQueue),
		free:        make(chan *Strip, maxStrips),
		subsampling: p.Subsampling,
		tomb:        new(tomb.Tomb),
		logFunc:     func(string) {},
	}
	s.quality.Store(int32(p.Quality))
	return s, nil
}

func (s *Streamer) SetLogFunc(f func(string)) {
	s.logFunc = f
}

func (s *Streamer) logf(format string, v ...interface{}) {
	s.logFunc(fmt.Sprintf(format, v...))
}

// SetQuality changes the quality from the next image on.
func (s *Streamer) SetQuality(q int) error {
	if q < 1 || q > 100 {
		return fmt.Errorf("quality %d not in 1-100", q)
	}
	s.quality.Store(int32(q))
	return nil
}

func (s *Streamer) Quality() int {
	return int(s.quality.Load())
}

// Frames is the number of images completed.
func (s *Streamer) Frames() uint64 {
	return s.frames.Load()
}

// Dropped is the number of strips that did not fit the queue in time.
func (s *Streamer) Dropped() uint64 {
	return s.dropped.Load()
}

// Clients is the number of clients waiting for or receiving images.
func (s *Streamer) Clients() int {
	return int(s.clients.Load())
}

// RequestScreenshot queues c to be attached at the start of the next
// image. The client keeps receiving images until a write to it fails or
// the streamer stops.
func (s *Streamer) RequestScreenshot(c Client) error {
	select {
	case s.clientCh <- c:
		s.clients.Add(1)
		s.requested.Store(true)
		return nil
	default:
		return ErrTooManyClients
	}
}

// InitCapture reports whether the frame about to be rendered should be
// captured.
func (s *Streamer) InitCapture(width, height int) bool {
	if width < 1 || height < 1 {
		return false
	}
	if !s.requested.Load() && s.clients.Load() == 0 {
		return false
	}
	s.requested.Store(false)
	return true
}

// GetStrip returns a strip for the renderer to draw into, or nil when all
// of them are still in use by the encoder. Only one goroutine may call it.
func (s *Streamer) GetStrip(y, rows, width, frameHeight int) *Strip {
	var st *Strip
	select {
	case st = <-s.free:
	default:
		if s.allocated >= maxStrips {
			return nil
		}
		s.allocated++
		st = new(Strip)
	}
	if cap(st.Pix) < rows*width {
		st.Pix = make([]uint16, rows*width)
	}
	st.Pix = st.Pix[:rows*width]
	st.Y, st.Rows, st.Width, st.FrameHeight = y, rows, width, frameHeight
	return st
}

func (s *Streamer) release(st *Strip) {
	select {
	case s.free <- st:
	default:
	}
}

// AddQueue hands a rendered strip to the encoder. If the encoder does not
// take it within a short wait the strip is dropped, the capture is
// re-armed for the next frame and false is returned.
func (s *Streamer) AddQueue(st *Strip) bool {
	timer := time.NewTimer(addQueueWait)
	defer timer.Stop()
	select {
	case s.canvasCh <- st:
		return true
	case <-timer.C:
	case <-s.tomb.Dying():
	}
	s.dropped.Add(1)
	if s.clients.Load() > 0 {
		s.requested.Store(true)
	}
	s.release(st)
	return false
}

// ProcessCapture encodes the queued strip, if there is one.
func (s *Streamer) ProcessCapture() Result {
	select {
	case st := <-s.canvasCh:
		return s.process(st)
	default:
		return Nothing
	}
}

func (s *Streamer) process(st *Strip) Result {
	defer s.release(st)

	if st.Y != s.y {
		// A strip went missing, so the image in progress is abandoned.
		// Strips from the middle of a frame that was never started are
		// ignored.
		abandoned := s.active
		s.y, s.active = 0, false
		if st.Y != 0 {
			if abandoned {
				return Error
			}
			return Nothing
		}
	}
	if st.Y == 0 {
		if s.clients.Load() == 0 {
			s.requested.Store(false)
			return Nothing
		}
		if err := s.send(span{begin: true}); err != nil {
			return Error
		}
		if err := s.startImage(st.Width, st.FrameHeight); err != nil {
			s.logf("starting image: %v", err)
			return Error
		}
		s.active = true
	}

	ok := true
	for i := 0; i < st.Rows && s.y+i < s.encH; i++ {
		if ok = s.enc.ProcessScanline565(st.Line(i)); !ok {
			break
		}
	}
	s.y += st.Rows
	if !ok {
		s.y, s.active = 0, false
		return Error
	}
	if s.y >= s.encH {
		s.y, s.active = 0, false
		if !s.enc.Finish() {
			return Error
		}
		s.frames.Add(1)
		return Complete
	}
	return Progress
}

func (s *Streamer) startImage(width, height int) error {
	q := s.Quality()
	if width != s.encW || height != s.encH {
		err := s.enc.Init(s, width, height, jpegenc.Params{Quality: q, Subsampling: s.subsampling})
		if err != nil {
			s.encW, s.encH = 0, 0
			return err
		}
		s.encW, s.encH = width, height
		return nil
	}
	return s.enc.Reinit(q)
}

// PutBuf passes encoder output to the writer, waiting while both queue
// slots are full.
func (s *Streamer) PutBuf(buf []byte) error {
	return s.send(span{buf: buf, end: buf == nil})
}

func (s *Streamer) send(sp span) error {
	select {
	case s.dataCh <- sp:
		return nil
	case <-s.tomb.Dying():
		return tomb.ErrDying
	}
}

// Start runs the writer task and an encoder task that processes strips as
// they are queued.
func (s *Streamer) Start() error {
	if s.started {
		return errors.New("streamer already started")
	}
	s.started = true
	s.tomb.Go(s.writeLoop)
	s.tomb.Go(s.encodeLoop)
	return nil
}

// Stop ends both tasks and closes every client. A Streamer cannot be
// started again.
func (s *Streamer) Stop() error {
	s.tomb.Kill(nil)
	if !s.started {
		return nil
	}
	return s.tomb.Wait()
}

func (s *Streamer) encodeLoop() error {
	for {
		select {
		case st := <-s.canvasCh:
			s.process(st)
		case <-s.tomb.Dying():
			return tomb.ErrDying
		}
	}
}

func (s *Streamer) writeLoop() error {
	var cur Client
	drop := func(c Client, err error) {
		if err != nil {
			s.logf("dropping stream client: %v", err)
		}
		c.Close()
		s.clients.Add(-1)
	}
	defer func() {
		if cur != nil {
			drop(cur, nil)
		}
		for {
			select {
			case c := <-s.clientCh:
				drop(c, nil)
			default:
				return
			}
		}
	}()

	for {
		var sp span
		select {
		case sp = <-s.dataCh:
		case <-s.tomb.Dying():
			return tomb.ErrDying
		}

		switch {
		case sp.begin:
			// Waiting clients take turns with the current one, only ever
			// at an image boundary.
			select {
			case next := <-s.clientCh:
				if cur != nil {
					select {
					case s.clientCh <- cur:
					default:
						drop(cur, ErrTooManyClients)
					}
				}
				cur = next
			default:
			}
			if cur != nil {
				if err := cur.BeginFrame(); err != nil {
					drop(cur, err)
					cur = nil
				}
			}
		case sp.end:
			if cur != nil {
				if err := cur.EndFrame(); err != nil {
					drop(cur, err)
					cur = nil
				}
			}
		default:
			if cur != nil {
				if err := cur.Write(sp.buf); err != nil {
					drop(cur, err)
					cur = nil
				}
			}
		}
	}
}
