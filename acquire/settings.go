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

package acquire

import (
	"fmt"
	"sync/atomic"

	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
)

const (
	DefaultRate           = mlx90640.Rate32Hz
	DefaultFilterStrength = 8
	DefaultEmissivity     = 98
)

// Settings are the sensor tuning values. They may be changed from any
// goroutine; the acquisition loop and processor pick them up on their
// next cycle.
type Settings struct {
	rate       atomic.Uint32
	strength   atomic.Uint32
	emissivity atomic.Uint32
	area       atomic.Pointer[mlx90640.MonitorArea]
}

func NewSettings() *Settings {
	s := new(Settings)
	s.rate.Store(uint32(DefaultRate))
	s.strength.Store(DefaultFilterStrength)
	s.emissivity.Store(DefaultEmissivity)
	area := mlx90640.DefaultMonitorArea
	s.area.Store(&area)
	return s
}

func (s *Settings) Rate() mlx90640.Rate {
	return mlx90640.Rate(s.rate.Load())
}

func (s *Settings) SetRate(r mlx90640.Rate) error {
	if r > mlx90640.Rate64Hz {
		return fmt.Errorf("invalid refresh rate %d", r)
	}
	s.rate.Store(uint32(r))
	return nil
}

// FilterStrength is 0 (off) to mlx90640.MaxFilterStrength.
func (s *Settings) FilterStrength() int {
	return int(s.strength.Load())
}

func (s *Settings) SetFilterStrength(n int) error {
	if n < 0 || n > mlx90640.MaxFilterStrength {
		return fmt.Errorf("noise filter strength must be 0 to %d, got %d", mlx90640.MaxFilterStrength, n)
	}
	s.strength.Store(uint32(n))
	return nil
}

// FilterLevel is the noise filter level for the current rate and strength.
func (s *Settings) FilterLevel() int {
	return mlx90640.FilterLevel(s.Rate(), s.FilterStrength())
}

// Emissivity is a percentage.
func (s *Settings) Emissivity() int {
	return int(s.emissivity.Load())
}

// SetEmissivity takes a percentage from 1 to 100. Zero would divide the
// measured radiation by zero.
func (s *Settings) SetEmissivity(pct int) error {
	if pct < 1 || pct > 100 {
		return fmt.Errorf("emissivity must be 1 to 100 percent, got %d", pct)
	}
	s.emissivity.Store(uint32(pct))
	return nil
}

func (s *Settings) MonitorArea() mlx90640.MonitorArea {
	return *s.area.Load()
}

func (s *Settings) SetMonitorArea(a mlx90640.MonitorArea) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.area.Store(&a)
	return nil
}
