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

// Package headers describes the camera to readers of the frame socket. A
// connection starts with YAML "key: value" lines ended by a blank line;
// every packet after that is one frame.
package headers

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v1"
)

const (
	XResolution = "ResX"
	YResolution = "ResY"
	FPS         = "FPS"
	FrameSize   = "FrameSize"
	Brand       = "Brand"
	Model       = "Model"
	DeviceName  = "DeviceName"
	Emissivity  = "Emissivity"
)

// HeaderInfo contains the camera description fields sent ahead of the
// frames.
type HeaderInfo struct {
	resX       int
	resY       int
	fps        float64
	framesize  int
	brand      string
	model      string
	deviceName string
	emissivity int
}

func New(resX, resY int, fps float64, framesize int, brand, model string) *HeaderInfo {
	return &HeaderInfo{
		resX:      resX,
		resY:      resY,
		fps:       fps,
		framesize: framesize,
		brand:     brand,
		model:     model,
	}
}

// WithDevice records the name of the device the camera is fitted to.
func (h *HeaderInfo) WithDevice(name string) *HeaderInfo {
	h.deviceName = name
	return h
}

// WithEmissivity records the emissivity, in percent, the temperatures were
// computed with.
func (h *HeaderInfo) WithEmissivity(pct int) *HeaderInfo {
	h.emissivity = pct
	return h
}

func (h *HeaderInfo) ResX() int {
	return h.resX
}

func (h *HeaderInfo) ResY() int {
	return h.resY
}

// FPS is the subpage rate, which may be below one.
func (h *HeaderInfo) FPS() float64 {
	return h.fps
}

// FrameSize returns the number of bytes in each frame packet.
func (h *HeaderInfo) FrameSize() int {
	return h.framesize
}

// Model returns the camera model.
func (h *HeaderInfo) Model() string {
	return h.model
}

// Brand returns the camera brand.
func (h *HeaderInfo) Brand() string {
	return h.brand
}

func (h *HeaderInfo) DeviceName() string {
	return h.deviceName
}

func (h *HeaderInfo) Emissivity() int {
	return h.emissivity
}

// WriteHeaderInfo writes h followed by the blank line that ends it.
func WriteHeaderInfo(w io.Writer, h *HeaderInfo) error {
	fields := map[string]interface{}{
		XResolution: h.resX,
		YResolution: h.resY,
		FPS:         h.fps,
		FrameSize:   h.framesize,
		Brand:       h.brand,
		Model:       h.model,
	}
	if h.deviceName != "" {
		fields[DeviceName] = h.deviceName
	}
	if h.emissivity != 0 {
		fields[Emissivity] = h.emissivity
	}
	out, err := yaml.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding header: %v", err)
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return err
}

func ReadHeaderInfo(reader *bufio.Reader) (*HeaderInfo, error) {
	var buf bytes.Buffer
	for {
		line, err := reader.ReadString(byte('\n'))
		if err != nil {
			return nil, err
		}
		if strings.Trim(line, " ") == "\n" {
			break
		}
		buf.WriteString(line)
	}
	h := make(map[string]interface{})
	err := yaml.Unmarshal(buf.Bytes(), &h)
	if err != nil {
		return nil, err
	}

	return &HeaderInfo{
		resX:       toInt(h[XResolution]),
		resY:       toInt(h[YResolution]),
		fps:        toFloat(h[FPS]),
		framesize:  toInt(h[FrameSize]),
		brand:      toStr(h[Brand]),
		model:      toStr(h[Model]),
		deviceName: toStr(h[DeviceName]),
		emissivity: toInt(h[Emissivity]),
	}, nil
}

func toInt(v interface{}) int {
	out, ok := v.(int)
	if !ok {
		return 0
	}
	return out
}

func toFloat(v interface{}) float64 {
	switch out := v.(type) {
	case int:
		return float64(out)
	case float64:
		return out
	}
	return 0
}

func toStr(v interface{}) string {
	out, ok := v.(string)
	if !ok {
		return ""
	}
	return out
}
