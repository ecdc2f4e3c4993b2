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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/TheCacophonyProject/thermal-streamer/acquire"
	"github.com/TheCacophonyProject/thermal-streamer/headers"
	"github.com/TheCacophonyProject/thermal-streamer/jpegenc"
	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
	"github.com/TheCacophonyProject/thermal-streamer/render"
	"github.com/TheCacophonyProject/thermal-streamer/stream"
	"github.com/TheCacophonyProject/thermal-streamer/streamerController"
	"github.com/TheCacophonyProject/thermal-streamer/throttle"
)

const snapshotName = "still.jpg"

var (
	errNoFrames  = errors.New("no frames yet")
	errThrottled = errors.New("too many snapshots, try again shortly")
)

// camera holds everything that outlives a sensor connection: the tuning
// values, the renderer and the stream with its clients.
type camera struct {
	settings    *acquire.Settings
	renderer    *render.Renderer
	streamer    *stream.Streamer
	fps         *throttle.Limiter
	snapshots   *throttle.Limiter
	subsampling jpegenc.Subsampling
	stripRows   int
	snapshotDir string
	device      deviceInfo

	mu     sync.Mutex
	loop   *acquire.Loop
	frames *acquire.FrameLoop
	skips  func() uint64
	sensor *mlx90640.Device

	// used by the render goroutine only
	frame mlx90640.TempFrame
}

func newCamera(conf *Config, device deviceInfo) (*camera, error) {
	settings := acquire.NewSettings()
	if err := conf.ApplyTo(settings); err != nil {
		return nil, err
	}
	renderer, err := render.New(conf.Render.Width, conf.Render.Height, conf.RenderOptions())
	if err != nil {
		return nil, err
	}
	params, err := conf.JPEGParams()
	if err != nil {
		return nil, err
	}
	streamer, err := stream.NewStreamer(params)
	if err != nil {
		return nil, err
	}
	fps, err := throttle.NewLimiter(conf.Stream.Throttle)
	if err != nil {
		return nil, err
	}
	snapshots, err := throttle.NewLimiter(conf.Snapshot)
	if err != nil {
		return nil, err
	}
	return &camera{
		settings:    settings,
		renderer:    renderer,
		streamer:    streamer,
		fps:         fps,
		snapshots:   snapshots,
		subsampling: params.Subsampling,
		stripRows:   conf.Render.StripRows,
		snapshotDir: conf.SnapshotDir,
		device:      device,
	}, nil
}

// applyConfig updates the values that can change while running.
func (c *camera) applyConfig(conf *Config) error {
	if err := conf.ApplyTo(c.settings); err != nil {
		return err
	}
	if err := c.renderer.SetOptions(conf.RenderOptions()); err != nil {
		return err
	}
	if err := c.streamer.SetQuality(conf.Stream.Quality); err != nil {
		return err
	}
	if err := c.fps.SetConfig(conf.Stream.Throttle); err != nil {
		return err
	}
	return c.snapshots.SetConfig(conf.Snapshot)
}

func (c *camera) attach(loop *acquire.Loop, proc *acquire.Processor, sensor *mlx90640.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loop = loop
	c.frames = proc.Frames()
	c.skips = proc.Skipped
	c.sensor = sensor
}

func (c *camera) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loop = nil
	c.skips = nil
	c.sensor = nil
	// frames is kept so the last image can still be served
}

func (c *camera) frameLoop() *acquire.FrameLoop {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func (c *camera) copyRecent(dst *mlx90640.TempFrame) bool {
	frames := c.frameLoop()
	return frames != nil && frames.CopyRecent(dst)
}

// renderFrame draws the newest frame into the stream when a client wants
// one, strip by strip so the encoder can start before the canvas is done.
func (c *camera) renderFrame() {
	if !c.copyRecent(&c.frame) {
		return
	}
	c.renderer.Update(&c.frame)

	w, h := c.renderer.Size()
	if !c.streamer.InitCapture(w, h) || !c.fps.Allow() {
		return
	}
	for y := 0; y < h; y += c.stripRows {
		rows := min(c.stripRows, h-y)
		st := c.streamer.GetStrip(y, rows, w, h)
		if st == nil {
			return
		}
		c.renderer.DrawRows(&c.frame, st.Pix, y, rows)
		if !c.streamer.AddQueue(st) {
			return
		}
	}
}

// snapshot renders the newest frame to a JPEG.
func (c *camera) snapshot() ([]byte, error) {
	if !c.snapshots.Allow() {
		return nil, errThrottled
	}
	var f mlx90640.TempFrame
	if !c.copyRecent(&f) {
		return nil, errNoFrames
	}
	w, h := c.renderer.Size()
	pix := make([]uint16, w*h)
	c.renderer.Draw(&f, pix)

	var buf bytes.Buffer
	p := jpegenc.Params{Quality: c.streamer.Quality(), Subsampling: c.subsampling}
	if err := jpegenc.Encode565(&buf, pix, w, h, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// saveSnapshot writes a snapshot to the snapshot directory, replacing the
// previous one, and returns its path.
func (c *camera) saveSnapshot() (string, error) {
	data, err := c.snapshot()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.snapshotDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(c.snapshotDir, snapshotName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

func (c *camera) stats() streamerController.Stats {
	opts := c.renderer.Options()
	s := streamerController.Stats{
		Rate:          c.settings.Rate().String(),
		NoiseFilter:   c.settings.FilterStrength(),
		Emissivity:    c.settings.Emissivity(),
		Palette:       opts.Palette,
		AutoRange:     opts.AutoRange,
		Quality:       c.streamer.Quality(),
		StreamClients: c.streamer.Clients(),
		StreamFrames:  c.streamer.Frames(),
		StreamDropped: c.streamer.Dropped(),
	}

	c.mu.Lock()
	if c.loop != nil {
		ls := c.loop.Stats()
		s.Frames, s.Failures, s.Recoveries = ls.Frames, ls.Failures, ls.Recoveries
		s.Skipped = c.skips()
	}
	if c.sensor != nil {
		s.DegradedPixels = c.sensor.Warning().Degraded()
	}
	c.mu.Unlock()

	var f mlx90640.TempFrame
	if c.copyRecent(&f) {
		s.Min = mlx90640.ToCelsius(f.Min.Temp)
		s.Max = mlx90640.ToCelsius(f.Max.Temp)
		s.Avg = mlx90640.ToCelsius(f.Avg)
		s.Median = mlx90640.ToCelsius(f.Median)
		s.Center = mlx90640.ToCelsius(f.Center)
	}
	return s
}

// pixels returns the whole array in degrees, combining the newest frame
// of each subpage. Pixels of a subpage not yet read are zero.
func (c *camera) pixels() ([]float64, bool) {
	frames := c.frameLoop()
	if frames == nil {
		return nil, false
	}
	history := frames.GetHistory()
	if len(history) == 0 {
		return nil, false
	}
	out := make([]float64, mlx90640.Pixels)
	var seen [2]bool
	for i := len(history) - 1; i >= 0; i-- {
		f := &history[i]
		if seen[f.Subpage] {
			continue
		}
		seen[f.Subpage] = true
		for cell, v := range f.Data {
			out[mlx90640.CellPixel(cell, f.Subpage)] = mlx90640.ToCelsius(v)
		}
	}
	return out, true
}

func (c *camera) headerInfo() *headers.HeaderInfo {
	h := headers.New(mlx90640.Cols, mlx90640.Rows, c.settings.Rate().Hz(), mlx90640.FrameBytes, "Melexis", "MLX90640")
	return h.WithDevice(c.device.Name).WithEmissivity(c.settings.Emissivity())
}

func (c *camera) String() string {
	w, h := c.renderer.Size()
	return fmt.Sprintf("%dx%d canvas, %v", w, h, c.settings.Rate())
}
