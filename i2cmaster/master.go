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

// Package i2cmaster drives an I2C peripheral as bus master at the
// register level: command lists, FIFOs and interrupts. Large word reads
// are drained from the receive FIFO by the interrupt handler, and a
// wedged bus is recovered by clocking SCL by hand.
package i2cmaster

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

var (
	ErrPort        = errors.New("i2c: port out of range")
	ErrAddress     = errors.New("i2c: address out of range")
	ErrState       = errors.New("i2c: bus is not in a state allowing this operation")
	ErrNack        = errors.New("i2c: not acknowledged")
	ErrArbitration = errors.New("i2c: arbitration lost")
	ErrTimeout     = errors.New("i2c: timeout")
)

type state int

const (
	stateDisconnected state = iota
	stateWrite
	stateRead
	stateError
)

func (s state) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateWrite:
		return "write"
	case stateRead:
		return "read"
	}
	return "error"
}

const (
	addr7Min  = 0x08
	addr7Max  = 0x77
	addr10Max = 1023

	txFifoBytes    = 32
	txFifoWords    = txFifoBytes / 2
	readChunkWords = 128

	busBusyWait = 128 * time.Microsecond
	stopWait    = 14 * time.Millisecond

	// DefaultHz is used by Tx and the first transaction when no
	// frequency has been set.
	DefaultHz = 400000
)

var masterConfig = MasterConfig{
	RxFullThreshold:  24,
	TxEmptyThreshold: 4,
	Timeout:          0xFFFFF,
}

// Options tune a Master. The zero value is usable.
type Options struct {
	Clock   Clock
	LogFunc func(string)
}

// Master is a single I2C bus master. A Master must not be used from more
// than one goroutine at a time; the interrupt handler only touches the
// read job state while a ReadWords call is waiting for it.
type Master struct {
	ctrl    Controller
	pins    BusRecovery
	clock   Clock
	logFunc func(string)
	port    int

	state   state
	waitAck bool
	freq    uint32
	saved   Registers

	job readJob
}

// Open claims the controller for port, recovers the bus with a manual
// STOP and installs the interrupt handler.
func Open(p Platform, port int, pins BusRecovery, opts Options) (*Master, error) {
	if port < 0 || port >= p.NumPorts() {
		return nil, ErrPort
	}
	m := &Master{
		ctrl:    p.Controller(port),
		pins:    pins,
		clock:   opts.Clock,
		logFunc: opts.LogFunc,
		port:    port,
	}
	if m.clock == nil {
		m.clock = realClock{}
	}
	if m.logFunc == nil {
		m.logFunc = func(string) {}
	}
	m.Reopen()
	return m, nil
}

// Reopen repeats the bus recovery done by Open and clears the error
// state. Used after the bus has been cleared by hand.
func (m *Master) Reopen() {
	m.saved = m.ctrl.SaveRegisters()
	m.manualStop()
	m.ctrl.LoadRegisters(m.saved)
	m.ctrl.SetInterruptHandler(m.handleInterrupt)
	m.state = stateDisconnected
	m.waitAck = false
	m.freq = 0
}

func (m *Master) SetLogFunc(f func(string)) {
	m.logFunc = f
}

func (m *Master) logf(format string, v ...interface{}) {
	m.logFunc(fmt.Sprintf(format, v...))
}

func (m *Master) String() string {
	return fmt.Sprintf("I2C%d", m.port)
}

// SetFreq programs the bus timing for hz and returns the register values.
func (m *Master) SetFreq(hz uint32) Timing {
	m.freq = hz
	t := ComputeTiming(hz)
	m.ctrl.SetTiming(t)
	return t
}

// Start begins a transaction with addr. It clears any error state left
// by an earlier transaction.
func (m *Master) Start(addr uint16, read bool, hz uint32) error {
	m.saved = m.ctrl.SaveRegisters()
	if m.ctrl.BusBusy() {
		start := m.clock.Now()
		for {
			runtime.Gosched()
			if !m.ctrl.BusBusy() || m.clock.Now().Sub(start) >= busBusyWait {
				break
			}
		}
	}
	m.ctrl.ResetMaster(masterConfig)
	m.state = stateDisconnected
	return m.Restart(addr, read, hz)
}

// Restart issues a repeated START without releasing the bus.
func (m *Master) Restart(addr uint16, read bool, hz uint32) error {
	if addr < addr7Min || addr > addr10Max {
		return ErrAddress
	}
	if err := m.wait(false); err != nil {
		return err
	}

	c := m.ctrl
	c.SetCommand(0, MakeCommand(OpStart, 0, false))
	c.SetCommand(2, MakeCommand(OpEnd, 0, false))
	if addr <= addr7Max {
		c.WriteFifo(byte(addr<<1) | rwBit(read))
		c.SetCommand(1, MakeCommand(OpWrite, 1, false))
	} else {
		header := 0xF0 | byte(addr>>8)<<1
		c.WriteFifo(header)
		c.WriteFifo(byte(addr))
		c.SetCommand(1, MakeCommand(OpWrite, 2, false))
		if read {
			// 10-bit reads repeat the header with the read bit set.
			c.WriteFifo(header | 1)
			c.SetCommand(2, MakeCommand(OpStart, 0, false))
			c.SetCommand(3, MakeCommand(OpWrite, 1, false))
			c.SetCommand(4, MakeCommand(OpEnd, 0, false))
		}
	}

	if m.state == stateDisconnected || m.freq != hz {
		m.SetFreq(hz)
	}
	c.ClearInterrupts(IntAll)
	c.StartTransfer()
	if read {
		m.state = stateRead
	} else {
		m.state = stateWrite
	}
	m.waitAck = true
	return nil
}

// Stop waits for the last command to be acknowledged and ends the
// transaction. A bus that never reports END is recovered by hand.
func (m *Master) Stop() error {
	return m.wait(true)
}

// WriteBytes sends data in chunks of at most one transmit FIFO.
func (m *Master) WriteBytes(data []byte) error {
	if m.state == stateError || m.state == stateRead {
		return ErrState
	}
	n := ((len(data) - 1) & (txFifoBytes - 1)) + 1
	for len(data) > 0 {
		if err := m.wait(false); err != nil {
			m.logf("writeBytes error: ack wait: %v", err)
			return err
		}
		for _, b := range data[:n] {
			m.ctrl.WriteFifo(b)
		}
		m.ctrl.SetCommand(0, MakeCommand(OpWrite, n, false))
		m.ctrl.SetCommand(1, MakeCommand(OpEnd, 0, false))
		m.ctrl.StartTransfer()
		m.waitAck = true
		data = data[n:]
		n = txFifoBytes
	}
	return nil
}

// WriteWords sends 16 bit words most significant byte first.
func (m *Master) WriteWords(data []uint16) error {
	if m.state == stateError || m.state == stateRead {
		return ErrState
	}
	n := ((len(data) - 1) & (txFifoWords - 1)) + 1
	for len(data) > 0 {
		if err := m.wait(false); err != nil {
			m.logf("writeWords error: ack wait: %v", err)
			return err
		}
		for _, w := range data[:n] {
			m.ctrl.WriteFifo(byte(w >> 8))
			m.ctrl.WriteFifo(byte(w))
		}
		m.ctrl.SetCommand(0, MakeCommand(OpWrite, n<<1, false))
		m.ctrl.SetCommand(1, MakeCommand(OpEnd, 0, false))
		m.ctrl.StartTransfer()
		m.waitAck = true
		data = data[n:]
		n = txFifoWords
	}
	return nil
}

// ReadBytes reads into dst by polling the receive FIFO. It is meant for
// short register reads; use ReadWords for frame sized transfers.
func (m *Master) ReadBytes(dst []byte, lastNack bool) error {
	if m.state == stateError || m.state == stateWrite {
		return ErrState
	}
	const mask = IntAckErr | IntTimeout | IntEndDetect | IntArbitrationLost
	t := m.ctrl.Timing()
	limit := time.Duration(t.HighPeriod+t.LowPeriod+16) * time.Microsecond

	for len(dst) > 0 {
		n := ((len(dst) - 1) & (txFifoBytes - 1)) + 1
		last := len(dst) == n
		if err := m.wait(false); err != nil {
			m.logf("readBytes error: ack wait: %v", err)
			return err
		}
		switch {
		case last && lastNack && n == 1:
			m.ctrl.SetCommand(0, MakeCommand(OpRead, 1, true))
			m.ctrl.SetCommand(1, MakeCommand(OpEnd, 0, false))
		case last && lastNack:
			m.ctrl.SetCommand(0, MakeCommand(OpRead, n-1, false))
			m.ctrl.SetCommand(1, MakeCommand(OpRead, 1, true))
			m.ctrl.SetCommand(2, MakeCommand(OpEnd, 0, false))
		default:
			m.ctrl.SetCommand(0, MakeCommand(OpRead, n, false))
			m.ctrl.SetCommand(1, MakeCommand(OpEnd, 0, false))
		}
		m.ctrl.ClearInterrupts(mask)
		m.ctrl.StartTransfer()
		for i := 0; i < n; i++ {
			start := m.clock.Now()
			for m.ctrl.RxFifoCount() == 0 && m.ctrl.RawInterrupts()&mask == 0 &&
				m.clock.Now().Sub(start) <= limit {
				runtime.Gosched()
			}
			if m.ctrl.RxFifoCount() == 0 {
				m.manualStop()
				m.logf("readBytes error: read timeout")
				m.state = stateError
				return ErrTimeout
			}
			dst[i] = m.ctrl.ReadFifo()
		}
		dst = dst[n:]
	}
	return nil
}

// ReadWords fills dst with big endian words. The transfer is issued in
// chunks of up to 128 words which the interrupt handler chains without
// returning to the caller. hz of 0 keeps the current bus frequency.
func (m *Master) ReadWords(dst []uint16, lastNack bool, hz uint32) error {
	if len(dst) == 0 {
		return nil
	}
	if m.state == stateError || m.state == stateWrite {
		return ErrState
	}
	if hz != 0 {
		m.wait(false)
		m.SetFreq(hz)
	} else if m.freq != 0 {
		hz = m.freq
	} else {
		hz = DefaultHz
	}

	done := make(chan struct{}, 1)
	m.job = readJob{buf: dst, done: done}
	if err := m.readWordInner(len(dst), lastNack); err != nil {
		m.job.active = false
		m.state = stateError
		return err
	}

	// About eight times the nominal transfer time, plus 10ms.
	timeout := time.Duration(18*1000*len(dst)/int(maxUint32(hz>>3, 1))+10) * time.Millisecond
	select {
	case <-done:
	default:
		select {
		case <-done:
		case <-m.clock.After(timeout):
			m.job.active = false
			m.state = stateError
			m.logf("readWords error: timeout after %v, %d of %d words", timeout, m.job.received, len(dst))
			return ErrTimeout
		}
	}
	if m.job.err != nil {
		m.state = stateError
		return m.job.err
	}
	return nil
}

// TransactionWrite is Start, WriteBytes and Stop. It stops at the first
// failure.
func (m *Master) TransactionWrite(addr uint16, w []byte, hz uint32) error {
	if err := m.Start(addr, false, hz); err != nil {
		return err
	}
	if err := m.WriteBytes(w); err != nil {
		return err
	}
	return m.Stop()
}

// TransactionRead is Start, ReadBytes and Stop.
func (m *Master) TransactionRead(addr uint16, r []byte, hz uint32) error {
	if err := m.Start(addr, true, hz); err != nil {
		return err
	}
	if err := m.ReadBytes(r, true); err != nil {
		return err
	}
	return m.Stop()
}

// TransactionWriteRead writes w then reads r after a repeated START. A
// failed write means no read is attempted.
func (m *Master) TransactionWriteRead(addr uint16, w, r []byte, hz uint32) error {
	if err := m.Start(addr, false, hz); err != nil {
		return err
	}
	if err := m.WriteBytes(w); err != nil {
		return err
	}
	if err := m.Restart(addr, true, hz); err != nil {
		return err
	}
	if err := m.ReadBytes(r, true); err != nil {
		return err
	}
	return m.Stop()
}

// Tx has the same shape as periph's i2c.Bus Tx so generic register code
// can run over a Master.
func (m *Master) Tx(addr uint16, w, r []byte) error {
	hz := m.freq
	if hz == 0 {
		hz = DefaultHz
	}
	switch {
	case len(r) == 0:
		return m.TransactionWrite(addr, w, hz)
	case len(w) == 0:
		return m.TransactionRead(addr, r, hz)
	}
	return m.TransactionWriteRead(addr, w, r, hz)
}

// wait blocks until the previously issued commands are acknowledged.
// With stop set, or after a failure, the transaction is ended and the
// registers saved by Start are restored.
func (m *Master) wait(stop bool) error {
	if m.state == stateError {
		return ErrState
	}
	if m.state == stateDisconnected {
		return nil
	}

	var err error
	ended := true
	if m.waitAck {
		const mask = IntAckErr | IntEndDetect | IntArbitrationLost
		raw := m.ctrl.RawInterrupts()
		if raw&mask == 0 {
			t := m.ctrl.Timing()
			limit := time.Duration(t.HighPeriod+t.LowPeriod+20) *
				time.Duration(2+m.ctrl.TxFifoCount()) * time.Microsecond
			start := m.clock.Now()
			for {
				raw = m.ctrl.RawInterrupts()
				if raw&mask != 0 || m.clock.Now().Sub(start) > limit {
					break
				}
				runtime.Gosched()
			}
		}
		m.ctrl.ClearInterrupts(raw)
		ended = raw&IntEndDetect != 0
		if !ended || raw&IntAckErr != 0 {
			err = interruptErr(raw)
			m.state = stateError
		}
	}

	if stop || err != nil {
		if m.state == stateRead || !ended {
			m.manualStop()
		} else {
			const mask = IntAckErr | IntTimeout | IntEndDetect | IntArbitrationLost | IntTransComplete
			m.ctrl.SetCommand(0, MakeCommand(OpStop, 0, false))
			m.ctrl.SetCommand(1, MakeCommand(OpEnd, 0, false))
			m.ctrl.StartTransfer()
			start := m.clock.Now()
			for m.ctrl.RawInterrupts()&mask == 0 && m.clock.Now().Sub(start) < stopWait {
				runtime.Gosched()
			}
			if err == nil && m.ctrl.RawInterrupts()&IntAckErr != 0 {
				err = ErrNack
			}
		}
		m.ctrl.LoadRegisters(m.saved)
		if err == nil {
			m.state = stateDisconnected
		}
	}
	m.waitAck = false
	return err
}

// interruptErr maps a failed status to an error. No END detect and no
// error bit means the wait ran out of time.
func interruptErr(st Interrupt) error {
	switch {
	case st&IntAckErr != 0:
		return ErrNack
	case st&IntArbitrationLost != 0:
		return ErrArbitration
	}
	return ErrTimeout
}

func rwBit(read bool) byte {
	if read {
		return 1
	}
	return 0
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
