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
	"time"

	"periph.io/x/periph/conn/gpio"
)

const (
	recoveryHalfPeriod = 5 * time.Microsecond // 100kHz
	recoveryMaxPulses  = 9
	clearBusCycles     = 20
	clearBusStep       = time.Millisecond
)

// BusRecovery gives direct control of the bus lines while the
// peripheral is not driving them.
type BusRecovery interface {
	SetSCL(gpio.Level) error
	SetSDA(gpio.Level) error
	ReadSDA() gpio.Level
	// Release hands both lines back to the I2C peripheral as open drain
	// with pull-ups.
	Release() error
}

// manualStop clocks SCL until a slave holding SDA low lets go, at most
// nine times, then generates a STOP and resets the peripheral. It
// returns the number of pulses sent.
func (m *Master) manualStop() int {
	if m.pins == nil {
		m.ctrl.Reset()
		return 0
	}
	p := m.pins
	m.setLine(p.SetSDA, gpio.High)
	m.setLine(p.SetSCL, gpio.High)
	m.setLine(p.SetSCL, gpio.Low)

	pulses := 0
	for p.ReadSDA() == gpio.Low && pulses < recoveryMaxPulses {
		pulses++
		m.clock.Sleep(recoveryHalfPeriod)
		m.setLine(p.SetSCL, gpio.High)
		m.clock.Sleep(recoveryHalfPeriod)
		m.setLine(p.SetSCL, gpio.Low)
	}
	m.setLine(p.SetSDA, gpio.Low)
	m.setLine(p.SetSCL, gpio.High)
	m.ctrl.Reset()
	if err := p.Release(); err != nil {
		m.logf("bus recovery: releasing pins: %v", err)
	}
	if pulses > 0 {
		m.logf("bus recovery: SDA released after %d clock pulses", pulses)
	}
	return pulses
}

func (m *Master) setLine(set func(gpio.Level) error, l gpio.Level) {
	if err := set(l); err != nil {
		m.logf("bus recovery: %v", err)
	}
}

// ClearBus drives both lines through twenty STOP conditions. It is used
// to shake loose a sensor that failed many reads in a row, before the
// bus is opened again.
func ClearBus(p BusRecovery, clock Clock) error {
	if clock == nil {
		clock = realClock{}
	}
	for i := 0; i < clearBusCycles; i++ {
		for _, step := range []struct {
			set func(gpio.Level) error
			l   gpio.Level
		}{
			{p.SetSCL, gpio.Low},
			{p.SetSDA, gpio.Low},
			{p.SetSCL, gpio.High},
			{p.SetSDA, gpio.High},
		} {
			clock.Sleep(clearBusStep)
			if err := step.set(step.l); err != nil {
				return err
			}
		}
	}
	return p.Release()
}

// ClearBus clears the bus this master is attached to and reopens it.
func (m *Master) ClearBus() error {
	if m.pins == nil {
		m.Reopen()
		return nil
	}
	if err := ClearBus(m.pins, m.clock); err != nil {
		return err
	}
	m.Reopen()
	return nil
}
