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
	"errors"
	"fmt"
	"io/ioutil"

	yaml "gopkg.in/yaml.v2"

	"github.com/TheCacophonyProject/thermal-streamer/acquire"
	"github.com/TheCacophonyProject/thermal-streamer/jpegenc"
	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
	"github.com/TheCacophonyProject/thermal-streamer/render"
	"github.com/TheCacophonyProject/thermal-streamer/stream"
	"github.com/TheCacophonyProject/thermal-streamer/throttle"
)

const (
	busHost = "host"
	busGPIO = "gpio"

	maxCanvas = 1920
)

type Config struct {
	// Bus is "host" for a kernel I2C bus or "gpio" to drive SDA and SCL
	// directly.
	Bus         string `yaml:"bus"`
	I2CBus      string `yaml:"i2c-bus"`
	SDAPin      string `yaml:"sda-pin"`
	SCLPin      string `yaml:"scl-pin"`
	PowerPin    string `yaml:"power-pin"`
	FrameOutput string `yaml:"frame-output"`
	Listen      string `yaml:"listen"`
	SnapshotDir string `yaml:"snapshot-dir"`

	Sensor   SensorConfig    `yaml:"sensor"`
	Render   RenderConfig    `yaml:"render"`
	Stream   StreamConfig    `yaml:"stream"`
	Snapshot throttle.Config `yaml:"snapshot-throttle"`
}

type SensorConfig struct {
	RefreshRate string `yaml:"refresh-rate"`
	NoiseFilter int    `yaml:"noise-filter"`
	Emissivity  int    `yaml:"emissivity"`
	MonitorArea string `yaml:"monitor-area"`
}

type RenderConfig struct {
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	StripRows int     `yaml:"strip-rows"`
	Palette   string  `yaml:"palette"`
	AutoRange bool    `yaml:"auto-range"`
	RangeLow  float64 `yaml:"range-low"`
	RangeHigh float64 `yaml:"range-high"`
}

type StreamConfig struct {
	Quality     int             `yaml:"quality"`
	Subsampling string          `yaml:"subsampling"`
	Throttle    throttle.Config `yaml:"throttle"`
}

var defaultConfig = Config{
	Bus:         busHost,
	SDAPin:      "GPIO2",
	SCLPin:      "GPIO3",
	FrameOutput: "/var/run/thermal-frames",
	Listen:      ":8080",
	SnapshotDir: "/var/spool/thermal-streamer",
	Sensor: SensorConfig{
		RefreshRate: acquire.DefaultRate.String(),
		NoiseFilter: acquire.DefaultFilterStrength,
		Emissivity:  acquire.DefaultEmissivity,
		MonitorArea: mlx90640.DefaultMonitorArea.String(),
	},
	Render: RenderConfig{
		Width:     320,
		Height:    240,
		StripRows: 16,
		Palette:   render.DefaultPalette,
		AutoRange: true,
		RangeLow:  render.DefaultLower,
		RangeHigh: render.DefaultUpper,
	},
	Stream: StreamConfig{
		Quality:     stream.DefaultQuality,
		Subsampling: jpegenc.H2V2.String(),
		Throttle:    throttle.DefaultStreamConfig(),
	},
	Snapshot: throttle.DefaultSnapshotConfig(),
}

func ParseConfigFile(filename string) (*Config, error) {
	buf, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	conf := defaultConfig
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (conf *Config) Validate() error {
	switch conf.Bus {
	case busHost:
	case busGPIO:
		if conf.SDAPin == "" || conf.SCLPin == "" {
			return errors.New("sda-pin and scl-pin are needed for the gpio bus")
		}
	default:
		return fmt.Errorf("bus must be %q or %q, got %q", busHost, busGPIO, conf.Bus)
	}
	if conf.Listen == "" {
		return errors.New("listen address not set")
	}

	if err := conf.ApplyTo(acquire.NewSettings()); err != nil {
		return err
	}

	r := conf.Render
	if r.Width < 1 || r.Height < 1 || r.Width > maxCanvas || r.Height > maxCanvas {
		return fmt.Errorf("canvas size %dx%d out of range", r.Width, r.Height)
	}
	if r.StripRows < 1 || r.StripRows > r.Height {
		return fmt.Errorf("strip-rows must be 1 to %d", r.Height)
	}
	if err := conf.RenderOptions().Validate(); err != nil {
		return err
	}

	if _, err := conf.JPEGParams(); err != nil {
		return err
	}
	if err := conf.Stream.Throttle.Validate(); err != nil {
		return fmt.Errorf("stream throttle: %v", err)
	}
	if err := conf.Snapshot.Validate(); err != nil {
		return fmt.Errorf("snapshot throttle: %v", err)
	}
	return nil
}

// ApplyTo sets the sensor tuning values.
func (conf *Config) ApplyTo(s *acquire.Settings) error {
	rate, err := mlx90640.ParseRate(conf.Sensor.RefreshRate)
	if err != nil {
		return err
	}
	area, err := mlx90640.ParseMonitorArea(conf.Sensor.MonitorArea)
	if err != nil {
		return err
	}
	if err := s.SetRate(rate); err != nil {
		return err
	}
	if err := s.SetFilterStrength(conf.Sensor.NoiseFilter); err != nil {
		return err
	}
	if err := s.SetEmissivity(conf.Sensor.Emissivity); err != nil {
		return err
	}
	return s.SetMonitorArea(area)
}

func (conf *Config) RenderOptions() render.Options {
	return render.Options{
		Palette:   conf.Render.Palette,
		AutoRange: conf.Render.AutoRange,
		Lower:     conf.Render.RangeLow,
		Upper:     conf.Render.RangeHigh,
	}
}

func (conf *Config) JPEGParams() (jpegenc.Params, error) {
	sub, err := jpegenc.ParseSubsampling(conf.Stream.Subsampling)
	if err != nil {
		return jpegenc.Params{}, err
	}
	p := jpegenc.Params{Quality: conf.Stream.Quality, Subsampling: sub}
	return p, p.Validate()
}
