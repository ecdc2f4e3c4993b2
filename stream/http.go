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
	"net/http"

	"golang.org/x/net/websocket"
)

// MultipartHandler serves the stream as multipart/x-mixed-replace. The
// request is held open until the client disconnects or falls behind.
func MultipartHandler(s *Streamer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Clients() >= clientQueue {
			http.Error(w, ErrTooManyClients.Error(), http.StatusServiceUnavailable)
			return
		}
		c, err := NewMultipartClient(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := s.RequestScreenshot(c); err != nil {
			c.Close()
			return
		}
		select {
		case <-c.Done():
		case <-r.Context().Done():
			c.Close()
		}
	})
}

// WebsocketHandler sends one binary message per image.
func WebsocketHandler(s *Streamer) http.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		c := NewWebsocketClient(ws)
		if err := s.RequestScreenshot(c); err != nil {
			c.Close()
			return
		}
		// Nothing is expected from the viewer; a read error means it has
		// gone away.
		go func() {
			io.Copy(io.Discard, ws)
			c.Close()
		}()
		<-c.Done()
	})
}
