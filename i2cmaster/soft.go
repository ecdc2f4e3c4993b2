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

// line is the part of gpio.PinIO the software controller needs.
type line interface {
	Out(l gpio.Level) error
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
}

// SoftController is a Controller that executes the command list by
// bit-banging two GPIO pins. Interrupts are raised synchronously from
// StartTransfer, so a handler issuing a new transfer runs it before
// StartTransfer returns. It is also a single port Platform.
type SoftController struct {
	sda, scl line
	clock    Clock

	regs    Registers
	cfg     MasterConfig
	cmds    [numCommands]Command
	tx      []byte
	rx      []byte
	raw     Interrupt
	enabled Interrupt
	handler func()
}

func NewSoftController(sda, scl gpio.PinIO, clock Clock) *SoftController {
	return newSoftController(sda, scl, clock)
}

func newSoftController(sda, scl line, clock Clock) *SoftController {
	if clock == nil {
		clock = realClock{}
	}
	c := &SoftController{
		sda:   sda,
		scl:   scl,
		clock: clock,
		cfg:   masterConfig,
	}
	c.regs.Timing = ComputeTiming(100000)
	c.regs.Timeout = masterConfig.Timeout
	return c
}

func (c *SoftController) NumPorts() int                  { return 1 }
func (c *SoftController) Controller(port int) Controller { return c }

func (c *SoftController) SaveRegisters() Registers  { return c.regs }
func (c *SoftController) LoadRegisters(r Registers) { c.regs = r }
func (c *SoftController) SetTiming(t Timing)        { c.regs.Timing = t }
func (c *SoftController) Timing() Timing            { return c.regs.Timing }
func (c *SoftController) BusBusy() bool             { return false }

func (c *SoftController) ResetMaster(cfg MasterConfig) {
	c.cfg = cfg
	c.regs.Timeout = cfg.Timeout
	c.tx = c.tx[:0]
	c.rx = c.rx[:0]
	c.enabled = 0
}

func (c *SoftController) Reset() {
	c.tx = c.tx[:0]
	c.rx = c.rx[:0]
	c.raw = 0
	c.enabled = 0
	c.setSDA(gpio.High)
	c.scl.In(gpio.PullUp, gpio.NoEdge)
}

func (c *SoftController) SetCommand(index int, cmd Command) { c.cmds[index] = cmd }
func (c *SoftController) WriteFifo(b byte)                  { c.tx = append(c.tx, b) }
func (c *SoftController) RxFifoCount() int                  { return len(c.rx) }
func (c *SoftController) TxFifoCount() int                  { return len(c.tx) }

func (c *SoftController) ReadFifo() byte {
	if len(c.rx) == 0 {
		return 0
	}
	b := c.rx[0]
	c.rx = c.rx[1:]
	return b
}

func (c *SoftController) RawInterrupts() Interrupt    { return c.raw }
func (c *SoftController) InterruptStatus() Interrupt  { return c.raw & c.enabled }
func (c *SoftController) ClearInterrupts(i Interrupt) { c.raw &^= i }

// EnableInterrupts replaces the set of enabled interrupts.
func (c *SoftController) EnableInterrupts(i Interrupt) { c.enabled = i }

func (c *SoftController) SetInterruptHandler(h func()) { c.handler = h }

func (c *SoftController) StartTransfer() {
	cmds := c.cmds
	c.raw |= IntTransStart
	for _, cmd := range cmds {
		switch cmd.Op() {
		case OpStart:
			if !c.start() {
				c.raise(IntTimeout)
				return
			}
		case OpWrite:
			for i := 0; i < cmd.ByteNum(); i++ {
				ack, ok := c.writeByte(c.popTx())
				if !ok {
					c.raise(IntTimeout)
					return
				}
				if !ack && cmd.AckCheck() {
					c.raise(IntAckErr)
					return
				}
			}
		case OpRead:
			for i := 0; i < cmd.ByteNum(); i++ {
				b, ok := c.readByte(cmd.AckValue())
				if !ok {
					c.raise(IntTimeout)
					return
				}
				c.rx = append(c.rx, b)
				if len(c.rx) >= c.cfg.RxFullThreshold {
					c.raise(IntRxFifoFull)
				}
			}
		case OpStop:
			c.stop()
			c.raise(IntTransComplete)
			return
		case OpEnd:
			c.raise(IntEndDetect)
			return
		}
	}
}

func (c *SoftController) raise(i Interrupt) {
	c.raw |= i
	if c.raw&c.enabled != 0 && c.handler != nil {
		c.handler()
	}
}

func (c *SoftController) popTx() byte {
	if len(c.tx) == 0 {
		return 0xFF
	}
	b := c.tx[0]
	c.tx = c.tx[1:]
	return b
}

func (c *SoftController) halfPeriod() time.Duration {
	return time.Duration(c.regs.Cycle()) * time.Second / SourceClock / 2
}

func (c *SoftController) setSDA(l gpio.Level) {
	if l == gpio.High {
		c.sda.In(gpio.PullUp, gpio.NoEdge)
	} else {
		c.sda.Out(gpio.Low)
	}
}

// sclHigh releases SCL and waits while a slave stretches the clock.
func (c *SoftController) sclHigh() bool {
	c.scl.In(gpio.PullUp, gpio.NoEdge)
	if c.scl.Read() == gpio.High {
		return true
	}
	timeout := time.Duration(c.regs.Timeout) * time.Second / SourceClock
	start := c.clock.Now()
	for c.scl.Read() == gpio.Low {
		if c.clock.Now().Sub(start) > timeout {
			return false
		}
		c.clock.Sleep(c.halfPeriod())
	}
	return true
}

func (c *SoftController) sclLow() {
	c.scl.Out(gpio.Low)
}

func (c *SoftController) start() bool {
	half := c.halfPeriod()
	c.setSDA(gpio.High)
	c.clock.Sleep(half)
	if !c.sclHigh() {
		return false
	}
	c.clock.Sleep(half)
	c.setSDA(gpio.Low)
	c.clock.Sleep(half)
	c.sclLow()
	return true
}

func (c *SoftController) stop() {
	half := c.halfPeriod()
	c.setSDA(gpio.Low)
	c.clock.Sleep(half)
	c.sclHigh()
	c.clock.Sleep(half)
	c.setSDA(gpio.High)
	c.clock.Sleep(half)
}

// clockBit pulses SCL once and returns SDA as sampled while SCL is high.
func (c *SoftController) clockBit() (gpio.Level, bool) {
	half := c.halfPeriod()
	c.clock.Sleep(half)
	if !c.sclHigh() {
		return gpio.Low, false
	}
	l := c.sda.Read()
	c.clock.Sleep(half)
	c.sclLow()
	return l, true
}

func (c *SoftController) writeByte(b byte) (ack, ok bool) {
	for i := 7; i >= 0; i-- {
		c.setSDA(gpio.Level(b>>uint(i)&1 == 1))
		if _, ok := c.clockBit(); !ok {
			return false, false
		}
	}
	c.setSDA(gpio.High)
	l, ok := c.clockBit()
	return l == gpio.Low, ok
}

func (c *SoftController) readByte(nack bool) (byte, bool) {
	c.setSDA(gpio.High)
	var b byte
	for i := 0; i < 8; i++ {
		l, ok := c.clockBit()
		if !ok {
			return 0, false
		}
		b <<= 1
		if l == gpio.High {
			b |= 1
		}
	}
	c.setSDA(gpio.Level(nack))
	_, ok := c.clockBit()
	c.setSDA(gpio.High)
	return b, ok
}
