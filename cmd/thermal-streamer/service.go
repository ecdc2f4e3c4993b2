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
	"encoding/json"
	"errors"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
	"github.com/TheCacophonyProject/thermal-streamer/render"
)

const (
	dbusName = "org.cacophony.thermalstreamer"
	dbusPath = "/org/cacophony/thermalstreamer"
)

type service struct {
	cam *camera
}

func startService(cam *camera) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{cam: cam}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// SetRefreshRate takes a rate name such as "16Hz". The sensor is
// reprogrammed on the next cycle of the acquisition loop.
func (s *service) SetRefreshRate(name string) *dbus.Error {
	rate, err := mlx90640.ParseRate(name)
	if err == nil {
		err = s.cam.settings.SetRate(rate)
	}
	return makeDbusError("SetRefreshRate", err)
}

func (s *service) SetNoiseFilter(strength int32) *dbus.Error {
	return makeDbusError("SetNoiseFilter", s.cam.settings.SetFilterStrength(int(strength)))
}

func (s *service) SetEmissivity(percent int32) *dbus.Error {
	return makeDbusError("SetEmissivity", s.cam.settings.SetEmissivity(int(percent)))
}

func (s *service) SetPalette(name string) *dbus.Error {
	opts := s.cam.renderer.Options()
	opts.Palette = name
	return makeDbusError("SetPalette", s.cam.renderer.SetOptions(opts))
}

// SetAutoRange switches between following the scene and the fixed range
// in degrees.
func (s *service) SetAutoRange(auto bool, lower, upper float64) *dbus.Error {
	opts := s.cam.renderer.Options()
	opts.AutoRange = auto
	if !auto {
		opts.Lower, opts.Upper = lower, upper
	}
	return makeDbusError("SetAutoRange", s.cam.renderer.SetOptions(opts))
}

func (s *service) SetQuality(quality int32) *dbus.Error {
	return makeDbusError("SetQuality", s.cam.streamer.SetQuality(int(quality)))
}

// GetStats returns the camera statistics as JSON.
func (s *service) GetStats() (string, *dbus.Error) {
	out, err := json.Marshal(s.cam.stats())
	if err != nil {
		return "", makeDbusError("GetStats", err)
	}
	return string(out), nil
}

// TakeSnapshot saves the newest frame as a JPEG and returns its path.
func (s *service) TakeSnapshot() (string, *dbus.Error) {
	path, err := s.cam.saveSnapshot()
	if err != nil {
		return "", makeDbusError("TakeSnapshot", err)
	}
	return path, nil
}

// ListPalettes returns the names SetPalette accepts.
func (s *service) ListPalettes() ([]string, *dbus.Error) {
	return render.PaletteNames(), nil
}

func makeDbusError(name string, err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + name,
		Body: []interface{}{err.Error()},
	}
}
