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

const readInterrupts = IntAckErr | IntTimeout | IntRxFifoFull | IntEndDetect | IntArbitrationLost

// readJob is the state of an interrupt driven ReadWords. remain counts
// words not yet requested from the controller; a non-zero value at END
// detect means another chunk is issued from the handler.
type readJob struct {
	active   bool
	buf      []uint16
	received int
	remain   int
	err      error
	done     chan struct{}
}

func (j *readJob) finish() {
	if !j.active {
		return
	}
	j.active = false
	select {
	case j.done <- struct{}{}:
	default:
	}
}

// readWordInner requests the next chunk of a word read. The final byte
// of the chunk is NACKed when it ends the transfer and lastNack is set.
func (m *Master) readWordInner(length int, lastNack bool) error {
	n := ((length - 1) & (readChunkWords - 1)) + 1
	length -= n
	if err := m.wait(false); err != nil {
		m.logf("readWords error: ack wait: %v", err)
		return err
	}

	m.job.remain = length
	m.job.active = true

	c := m.ctrl
	c.SetCommand(0, MakeCommand(OpRead, n<<1-1, false))
	c.SetCommand(1, MakeCommand(OpRead, 1, length == 0 && lastNack))
	c.SetCommand(2, MakeCommand(OpEnd, 0, false))
	c.ClearInterrupts(IntAll)
	c.EnableInterrupts(readInterrupts)
	c.StartTransfer()
	return nil
}

// handleInterrupt is installed on the controller. It keeps serving the
// status until the controller reports nothing pending.
func (m *Master) handleInterrupt() {
	if !m.job.active {
		return
	}
	for {
		st := m.ctrl.InterruptStatus()
		m.ctrl.ClearInterrupts(st)
		m.OnInterrupt(st)
		if !m.job.active || m.ctrl.InterruptStatus() == 0 {
			return
		}
	}
}

// OnInterrupt advances the read job for one interrupt status. Complete
// words are drained from the receive FIFO, the first byte being the most
// significant. The completion channel is signalled exactly once, either
// when the last chunk ends or on the first bus error.
func (m *Master) OnInterrupt(st Interrupt) {
	j := &m.job
	if !j.active {
		return
	}
	for m.ctrl.RxFifoCount() > 1 {
		hi := m.ctrl.ReadFifo()
		lo := m.ctrl.ReadFifo()
		if j.received < len(j.buf) {
			j.buf[j.received] = uint16(hi)<<8 | uint16(lo)
		}
		j.received++
	}

	if st&(IntAckErr|IntTimeout|IntArbitrationLost) != 0 {
		if st&IntTimeout != 0 && st&(IntAckErr|IntArbitrationLost) == 0 {
			j.err = ErrTimeout
		} else {
			j.err = interruptErr(st)
		}
		j.finish()
		return
	}
	if st&IntEndDetect == 0 {
		return
	}
	if j.remain > 0 {
		if err := m.readWordInner(j.remain, true); err != nil {
			j.err = err
			j.finish()
		}
		return
	}
	j.finish()
}
