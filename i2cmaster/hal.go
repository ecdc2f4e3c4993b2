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

import "time"

// Op is a controller command opcode.
type Op uint8

const (
	OpStart Op = 0
	OpWrite Op = 1
	OpRead  Op = 2
	OpStop  Op = 3
	OpEnd   Op = 4
)

func (op Op) String() string {
	switch op {
	case OpStart:
		return "START"
	case OpWrite:
		return "WRITE"
	case OpRead:
		return "READ"
	case OpStop:
		return "STOP"
	case OpEnd:
		return "END"
	}
	return "?"
}

// Command is one entry of the controller's command list. The layout
// matches the hardware register: byte count in bits 0-7, ACK check
// enable in bit 8, ACK value in bit 10 and the opcode from bit 11.
type Command uint32

const numCommands = 16

func MakeCommand(op Op, byteNum int, ackValue bool) Command {
	c := Command(byteNum & 0xFF)
	if op == OpWrite || op == OpStop {
		c |= 0x100
	}
	if ackValue {
		c |= 1 << 10
	}
	return c | Command(op)<<11
}

func (c Command) Op() Op         { return Op((c >> 11) & 0x7) }
func (c Command) ByteNum() int   { return int(c & 0xFF) }
func (c Command) AckCheck() bool { return c&0x100 != 0 }
func (c Command) AckValue() bool { return c&(1<<10) != 0 }

// Interrupt is a set of controller interrupt bits.
type Interrupt uint32

const (
	IntRxFifoFull Interrupt = 1 << iota
	IntTxFifoEmpty
	IntRxFifoOverflow
	IntEndDetect
	IntSlaveTransComplete
	IntArbitrationLost
	IntMasterTransComplete
	IntTransComplete
	IntTimeout
	IntTransStart
	IntAckErr

	IntAll Interrupt = 1<<17 - 1
)

// Timing holds the bus timing registers in source clock cycles.
type Timing struct {
	HighPeriod   uint32
	LowPeriod    uint32
	SDAHold      uint32
	SDASample    uint32
	StartHold    uint32
	RestartSetup uint32
	StopHold     uint32
	StopSetup    uint32
	Filter       bool
}

// Registers is the part of the controller state saved at the start of
// a transaction and restored after its STOP.
type Registers struct {
	Timing
	FifoConf uint32
	Timeout  uint32
}

// MasterConfig is applied by Controller.ResetMaster at the start of
// every transaction.
type MasterConfig struct {
	RxFullThreshold  int
	TxEmptyThreshold int
	Timeout          uint32
}

// Controller is the register level view of one I2C peripheral.
type Controller interface {
	SaveRegisters() Registers
	LoadRegisters(Registers)
	SetTiming(Timing)
	Timing() Timing

	// ResetMaster puts the peripheral into master mode, clears both
	// FIFOs and disables all interrupts.
	ResetMaster(MasterConfig)
	// Reset resets the whole peripheral module.
	Reset()
	BusBusy() bool

	SetCommand(index int, cmd Command)
	WriteFifo(b byte)
	ReadFifo() byte
	RxFifoCount() int
	TxFifoCount() int

	RawInterrupts() Interrupt
	// InterruptStatus is the raw status masked by the enabled set.
	InterruptStatus() Interrupt
	ClearInterrupts(Interrupt)
	EnableInterrupts(Interrupt)
	SetInterruptHandler(func())

	// StartTransfer executes the command list.
	StartTransfer()
}

// Platform gives access to the I2C peripherals of a board.
type Platform interface {
	NumPorts() int
	Controller(port int) Controller
}

// Clock abstracts time so the bus waits can be tested.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
