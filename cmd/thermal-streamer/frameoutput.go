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
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/TheCacophonyProject/thermal-streamer/acquire"
	"github.com/TheCacophonyProject/thermal-streamer/headers"
	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
)

// A reader that cannot take a frame this quickly is dropped.
const frameOutputTimeout = 100 * time.Millisecond

// frameOutput serves temperature frames on a unixpacket socket. Each
// reader gets the camera header and then one packet per frame.
type frameOutput struct {
	listener *net.UnixListener
	header   func() *headers.HeaderInfo

	mu    sync.Mutex
	conns map[*net.UnixConn]struct{}
	frame mlx90640.TempFrame
	buf   []byte
}

func startFrameOutput(path string, header func() *headers.HeaderInfo) (*frameOutput, error) {
	os.Remove(path)
	listener, err := net.ListenUnix("unixpacket", &net.UnixAddr{Net: "unixpacket", Name: path})
	if err != nil {
		return nil, err
	}
	o := &frameOutput{
		listener: listener,
		header:   header,
		conns:    make(map[*net.UnixConn]struct{}),
		buf:      make([]byte, 0, mlx90640.FrameBytes),
	}
	go o.accept()
	return o, nil
}

func (o *frameOutput) accept() {
	for {
		conn, err := o.listener.AcceptUnix()
		if err != nil {
			return
		}
		if err := headers.WriteHeaderInfo(conn, o.header()); err != nil {
			log.Printf("frame output header failed: %v", err)
			conn.Close()
			continue
		}
		conn.SetWriteBuffer(mlx90640.FrameBytes * 20)
		log.Print("frame output reader connected")
		o.mu.Lock()
		o.conns[conn] = struct{}{}
		o.mu.Unlock()
	}
}

// publish sends the newest frame to every reader, dropping readers that
// fail.
func (o *frameOutput) publish(frames *acquire.FrameLoop) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.conns) == 0 || !frames.CopyRecent(&o.frame) {
		return
	}
	o.buf, _ = o.frame.AppendBinary(o.buf[:0])
	deadline := time.Now().Add(frameOutputTimeout)
	for conn := range o.conns {
		conn.SetWriteDeadline(deadline)
		if _, err := conn.Write(o.buf); err != nil {
			log.Printf("frame output reader dropped: %v", err)
			conn.Close()
			delete(o.conns, conn)
		}
	}
}

func (o *frameOutput) Close() error {
	err := o.listener.Close()
	o.mu.Lock()
	defer o.mu.Unlock()
	for conn := range o.conns {
		conn.Close()
		delete(o.conns, conn)
	}
	return err
}
