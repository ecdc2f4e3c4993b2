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
	"fmt"
	"log"

	"github.com/TheCacophonyProject/thermal-streamer/i2cmaster"
	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
)

// openBus returns the sensor bus chosen by the config and a function that
// releases it.
func openBus(conf *Config) (mlx90640.Bus, func() error, error) {
	switch conf.Bus {
	case busGPIO:
		bus, err := openGPIOBus(conf.SDAPin, conf.SCLPin)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() error { return nil }, nil
	default:
		bus, err := mlx90640.OpenHostBus(conf.I2CBus, mlx90640.Address)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus.Close, nil
	}
}

// openGPIOBus runs the register level master on a software controller that
// bit-bangs the two pins.
func openGPIOBus(sdaName, sclName string) (*mlx90640.MasterBus, error) {
	pins, err := i2cmaster.OpenPins(sdaName, sclName)
	if err != nil {
		return nil, err
	}
	ctrl := i2cmaster.NewSoftController(pins.SDA, pins.SCL, nil)
	m, err := i2cmaster.Open(ctrl, 0, pins, i2cmaster.Options{
		LogFunc: func(s string) { log.Print(s) },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C master: %v", err)
	}
	return mlx90640.NewMasterBus(m), nil
}
