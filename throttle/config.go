// thermal-streamer - stream calibrated thermal video from an MLX90640 camera
//  Copyright (C) 2018, The Cacophony Project
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

package throttle

import (
	"errors"
	"time"
)

// Config is a rate in events per second and how many may happen back to
// back.
type Config struct {
	Rate  float64 `yaml:"rate"`
	Burst int64   `yaml:"burst"`
}

// PerPeriod allows n events per period, all of which may be used at once.
func PerPeriod(n int64, period time.Duration) Config {
	return Config{
		Rate:  float64(n) / period.Seconds(),
		Burst: n,
	}
}

func DefaultStreamConfig() Config {
	return Config{Rate: 8, Burst: 1}
}

func DefaultSnapshotConfig() Config {
	return PerPeriod(10, time.Minute)
}

func (c Config) Validate() error {
	if c.Rate < 0 {
		return errors.New("throttle rate must not be negative")
	}
	if c.Rate > 0 && c.Burst < 1 {
		return errors.New("throttle burst must be at least 1")
	}
	return nil
}
