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
	"os"
)

// Recordings are written in large blocks so a slow SD card does not hold
// up reading the socket.
const captureBufferSize = 1 << 20

// bufferedFile is created under a temporary name and only renamed into
// place by Close, so an interrupted capture never leaves a file that looks
// complete.
type bufferedFile struct {
	f    *os.File
	w    *bufio.Writer
	name string
}

func newBufferedFile(name string) (*bufferedFile, error) {
	f, err := os.Create(name + ".part")
	if err != nil {
		return nil, err
	}
	return &bufferedFile{
		f:    f,
		w:    bufio.NewWriterSize(f, captureBufferSize),
		name: name,
	}, nil
}

func (bf *bufferedFile) Write(p []byte) (int, error) {
	return bf.w.Write(p)
}

// Close flushes and renames the file into place.
func (bf *bufferedFile) Close() error {
	if err := bf.w.Flush(); err != nil {
		bf.f.Close()
		return err
	}
	if err := bf.f.Close(); err != nil {
		return err
	}
	return os.Rename(bf.f.Name(), bf.name)
}

// Discard removes a capture that did not complete.
func (bf *bufferedFile) Discard() error {
	bf.f.Close()
	return os.Remove(bf.f.Name())
}
