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
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/TheCacophonyProject/thermal-streamer/stream"
	"github.com/TheCacophonyProject/thermal-streamer/streamerController"
)

type summary struct {
	Device string                   `json:"device,omitempty"`
	Time   time.Time                `json:"time"`
	Stats  streamerController.Stats `json:"stats"`
	Pixels []float64                `json:"pixels,omitempty"`
}

func newMux(cam *camera) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/stream", stream.MultipartHandler(cam.streamer))
	mux.Handle("/ws", stream.WebsocketHandler(cam.streamer))
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		out := summary{
			Device: cam.device.Name,
			Time:   time.Now(),
			Stats:  cam.stats(),
		}
		out.Pixels, _ = cam.pixels()
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&out); err != nil {
			log.Printf("writing json: %v", err)
		}
	})
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		data, err := cam.snapshot()
		switch err {
		case nil:
		case errThrottled:
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		case errNoFrames:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(data)
	})
	return mux
}

func startServer(addr string, cam *camera) (*http.Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: loggingHandler{newMux(cam)}}
	log.Printf("listening on %s", l.Addr())
	go func() {
		if err := srv.Serve(l); err != http.ErrServerClosed {
			log.Printf("http server stopped: %v", err)
		}
	}()
	return srv, nil
}

type loggingHandler struct {
	handler http.Handler
}

type loggingResponseWriter struct {
	http.ResponseWriter
	length int
	status int
}

func (l *loggingResponseWriter) Write(data []byte) (size int, err error) {
	size, err = l.ResponseWriter.Write(data)
	l.length += size
	return
}

func (l *loggingResponseWriter) WriteHeader(status int) {
	l.ResponseWriter.WriteHeader(status)
	l.status = status
}

// Hijack is needed for websocket.
func (l *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h := l.ResponseWriter.(http.Hijacker)
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach flushing and deadlines.
func (l *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return l.ResponseWriter
}

// ServeHTTP logs each request once it has finished.
func (l loggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
	l.handler.ServeHTTP(lrw, r)
	log.Printf("%s - %3d %6db %4s %s", r.RemoteAddr, lrw.status, lrw.length, r.Method, r.RequestURI)
}
