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

package i2cmaster

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
)

// Pins implements BusRecovery on two GPIO pins. A high level releases the
// line to its pull-up instead of driving it, as on an open drain bus.
type Pins struct {
	SDA gpio.PinIO
	SCL gpio.PinIO
}

// OpenPins looks up the SDA and SCL pins by name, e.g. "GPIO2" and "GPIO3".
func OpenPins(sdaName, sclName string) (*Pins, error) {
	sda := gpioreg.ByName(sdaName)
	if sda == nil {
		return nil, fmt.Errorf("failed to find SDA pin %q", sdaName)
	}
	scl := gpioreg.ByName(sclName)
	if scl == nil {
		return nil, fmt.Errorf("failed to find SCL pin %q", sclName)
	}
	return &Pins{SDA: sda, SCL: scl}, nil
}

func (p *Pins) SetSCL(l gpio.Level) error {
	return setOpenDrain(p.SCL, l)
}

func (p *Pins) SetSDA(l gpio.Level) error {
	return setOpenDrain(p.SDA, l)
}

func (p *Pins) ReadSDA() gpio.Level {
	return p.SDA.Read()
}

func (p *Pins) Release() error {
	if err := release(p.SDA); err != nil {
		return fmt.Errorf("failed to release SDA: %v", err)
	}
	if err := release(p.SCL); err != nil {
		return fmt.Errorf("failed to release SCL: %v", err)
	}
	return nil
}

func setOpenDrain(p gpio.PinIO, l gpio.Level) error {
	if l == gpio.High {
		return release(p)
	}
	return p.Out(gpio.Low)
}

func release(p gpio.PinIO) error {
	return p.In(gpio.PullUp, gpio.NoEdge)
}
