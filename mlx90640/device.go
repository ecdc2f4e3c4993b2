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

package mlx90640

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotReady means the sensor has no new subpage yet.
	ErrNotReady = errors.New("mlx90640: no new frame")
	// ErrCorrupt means a frame was read but failed the sanity check.
	ErrCorrupt = errors.New("mlx90640: corrupt frame")
	// ErrNotInitialised is returned before Init succeeded.
	ErrNotInitialised = errors.New("mlx90640: not initialised")
)

const (
	setRateRetries = 100
	setRateDelay   = time.Millisecond

	statusDataReady = 0x0008
	statusClear     = 0x0030
	// RAM word 830 is well below 0xFF on a good read.
	sanityWord = 830
)

// Bus carries 16 bit register transfers to the sensor. hz is the speed
// of the data phase of a read; the address phases run at 400kHz.
type Bus interface {
	ReadWords(reg uint16, dst []uint16, hz uint32) error
	WriteWords(reg uint16, data ...uint16) error
	// Recover frees a wedged bus and makes it usable again.
	Recover() error
}

// Device is an MLX90640 on a Bus. It is not safe for concurrent use.
type Device struct {
	bus     Bus
	params  *Params
	warning Warning
	rate    Rate
	busHz   uint32
	sleep   func(time.Duration)
	logFunc func(string)
}

func New(bus Bus) *Device {
	return &Device{
		bus:     bus,
		rate:    Rate32Hz,
		busHz:   DefaultBusHz,
		sleep:   time.Sleep,
		logFunc: func(string) {},
	}
}

func (d *Device) SetLogFunc(f func(string)) {
	d.logFunc = f
}

func (d *Device) logf(format string, v ...interface{}) {
	d.logFunc(fmt.Sprintf(format, v...))
}

// Init reads and decodes the calibration EEPROM.
func (d *Device) Init() error {
	ee := make([]uint16, EEPROMWords)
	if err := d.bus.ReadWords(regEEPROM, ee, d.busHz); err != nil {
		return fmt.Errorf("reading eeprom: %v", err)
	}
	p, warn, err := ExtractParams(ee)
	if err != nil {
		return err
	}
	if warn.Degraded() {
		d.logf("calibration degraded: %v", warn)
	}
	d.params = p
	d.warning = warn
	return nil
}

// Params returns the decoded calibration, nil before Init.
func (d *Device) Params() *Params {
	return d.params
}

func (d *Device) Warning() Warning {
	return d.warning
}

func (d *Device) Rate() Rate {
	return d.rate
}

// Recover frees the bus after repeated failures. Init must be called
// again afterwards.
func (d *Device) Recover() error {
	d.params = nil
	return d.bus.Recover()
}

// SetRate programs the refresh rate and raises the read speed to match.
// The control register read is retried since the sensor may be busy.
func (d *Device) SetRate(r Rate) error {
	r &= 7
	d.rate = r
	d.busHz = r.BusHz()

	ctrl := make([]uint16, 1)
	var err error
	for i := 0; i < setRateRetries; i++ {
		if err = d.bus.ReadWords(regControl, ctrl, d.busHz); err == nil {
			break
		}
		d.sleep(setRateDelay)
	}
	if err != nil {
		return fmt.Errorf("reading control register: %v", err)
	}

	if err := d.bus.WriteWords(regControl, ctrl[0]&0xFC7F|uint16(r)<<7); err != nil {
		return fmt.Errorf("writing control register: %v", err)
	}
	if err := d.bus.WriteWords(regStatus, statusClear); err != nil {
		return fmt.Errorf("clearing status: %v", err)
	}
	return nil
}

// ReadFrame reads the latest subpage into f. ErrNotReady is returned when
// the sensor has not measured a new subpage since the last read.
func (d *Device) ReadFrame(f *RawFrame) error {
	if err := d.bus.ReadWords(regStatus, f[:1], d.busHz); err != nil {
		return err
	}
	status := f[0]
	if status&statusDataReady == 0 {
		return ErrNotReady
	}
	f[833] = status & 1

	if err := d.bus.ReadWords(regRAM, f[:EEPROMWords], d.busHz); err != nil {
		return err
	}
	if err := d.bus.ReadWords(regControl, f[832:833], d.busHz); err != nil {
		return err
	}
	if f[sanityWord] >= 0xFF {
		return ErrCorrupt
	}
	return d.bus.WriteWords(regStatus, statusClear)
}

// Temperatures computes a frame without filtering from f, with the
// reflected temperature taken from the sensor.
func (d *Device) Temperatures(f *RawFrame, emissivity float64, out *TempFrame) error {
	if d.params == nil {
		return ErrNotInitialised
	}
	d.params.CalculateTo(f, emissivity, d.params.Tr(f), out, nil, 0)
	return nil
}
