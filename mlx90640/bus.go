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
	"encoding/binary"
	"fmt"

	"github.com/TheCacophonyProject/thermal-streamer/i2cmaster"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
)

const addressPhaseHz = 400000

// MasterBus runs register transfers on an i2cmaster.Master.
type MasterBus struct {
	M    *i2cmaster.Master
	Addr uint16
}

func NewMasterBus(m *i2cmaster.Master) *MasterBus {
	return &MasterBus{M: m, Addr: Address}
}

func (b *MasterBus) ReadWords(reg uint16, dst []uint16, hz uint32) error {
	if err := b.M.Start(b.Addr, false, addressPhaseHz); err != nil {
		return err
	}
	if err := b.M.WriteWords([]uint16{reg}); err != nil {
		return err
	}
	if err := b.M.Restart(b.Addr, true, addressPhaseHz); err != nil {
		return err
	}
	if err := b.M.ReadWords(dst, true, hz); err != nil {
		return err
	}
	return b.M.Stop()
}

func (b *MasterBus) WriteWords(reg uint16, data ...uint16) error {
	if err := b.M.Start(b.Addr, false, addressPhaseHz); err != nil {
		return err
	}
	if err := b.M.WriteWords([]uint16{reg}); err != nil {
		return err
	}
	if err := b.M.WriteWords(data); err != nil {
		return err
	}
	return b.M.Stop()
}

// Recover clocks the bus through a series of STOP conditions and reopens
// the master.
func (b *MasterBus) Recover() error {
	return b.M.ClearBus()
}

func (b *MasterBus) String() string {
	return fmt.Sprintf("%s@%#x", b.M, b.Addr)
}

// HostBus uses an I2C bus of the host through periph, such as /dev/i2c-1
// on a Raspberry Pi. The data phase speed is whatever the bus driver was
// configured with.
type HostBus struct {
	name string
	addr uint16
	bus  i2c.BusCloser
	dev  *i2c.Dev
}

// OpenHostBus opens the named bus; an empty name picks the first one.
func OpenHostBus(name string, addr uint16) (*HostBus, error) {
	b := &HostBus{name: name, addr: addr}
	if err := b.open(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *HostBus) open() error {
	bus, err := i2creg.Open(b.name)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus %q: %v", b.name, err)
	}
	b.bus = bus
	b.dev = &i2c.Dev{Bus: bus, Addr: b.addr}
	return nil
}

func (b *HostBus) ReadWords(reg uint16, dst []uint16, hz uint32) error {
	w := []byte{byte(reg >> 8), byte(reg)}
	r := make([]byte, len(dst)*2)
	if err := b.dev.Tx(w, r); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = binary.BigEndian.Uint16(r[i*2:])
	}
	return nil
}

func (b *HostBus) WriteWords(reg uint16, data ...uint16) error {
	w := make([]byte, 2+len(data)*2)
	binary.BigEndian.PutUint16(w, reg)
	for i, v := range data {
		binary.BigEndian.PutUint16(w[2+i*2:], v)
	}
	return b.dev.Tx(w, nil)
}

// Recover closes and reopens the bus. The kernel driver does its own
// recovery of SDA.
func (b *HostBus) Recover() error {
	if err := b.Close(); err != nil {
		return err
	}
	return b.open()
}

func (b *HostBus) Close() error {
	if b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	return err
}

func (b *HostBus) String() string {
	return fmt.Sprintf("%s@%#x", b.dev, b.addr)
}
