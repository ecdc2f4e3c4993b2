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

package jpegenc

import (
	"fmt"
	"io"
)

// Sink receives the compressed stream. buf is owned by the encoder's
// output ring and stays valid until three further PutBuf calls; a nil buf
// marks the end of an image.
type Sink interface {
	PutBuf(buf []byte) error
}

// WriterSink copies the stream to an io.Writer.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) PutBuf(buf []byte) error {
	if buf == nil {
		return nil
	}
	_, err := s.W.Write(buf)
	return err
}

// Encode565 compresses a whole width x height RGB565 image to w.
func Encode565(w io.Writer, pix []uint16, width, height int, p Params) error {
	if len(pix) < width*height {
		return fmt.Errorf("%d pixels for a %dx%d image", len(pix), width, height)
	}
	var e Encoder
	if err := e.Init(WriterSink{w}, width, height, p); err != nil {
		return err
	}
	for y := 0; y < height; y++ {
		if !e.ProcessScanline565(pix[y*width : (y+1)*width]) {
			return e.Err()
		}
	}
	if !e.Finish() {
		return e.Err()
	}
	return nil
}
