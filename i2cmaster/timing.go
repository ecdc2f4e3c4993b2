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

const (
	// SourceClock is the clock feeding the peripheral, in Hz.
	SourceClock = 80000000
	// MinCycle is the shortest SCL period, in source clock cycles.
	MinCycle = 40

	maxCycle      = 32767
	maxHoldCycle  = 1<<10 - 1
	fastModeHz    = 400000
	minHighPeriod = 18
)

// ComputeTiming returns the register values giving an SCL frequency as
// close to hz as the source clock allows without exceeding it. Above
// 400kHz the START/STOP hold times are stretched as if the bus ran at
// 400kHz, which the MLX90640 needs for its setup and hold requirements.
func ComputeTiming(hz uint32) Timing {
	cycle := SourceClock/(hz+1) + 1
	if cycle < MinCycle {
		cycle = MinCycle
	}
	if cycle > maxCycle {
		cycle = maxCycle
	}
	freq := SourceClock / cycle

	var t Timing
	t.Filter = cycle > 64
	total := cycle - highOffset(t.Filter) - 1
	t.HighPeriod = (total - 10) >> 1
	if t.HighPeriod < minHighPeriod {
		t.HighPeriod = minHighPeriod
	}
	t.LowPeriod = total - t.HighPeriod
	t.SDAHold = minUint32(maxHoldCycle, t.HighPeriod>>1)
	t.SDASample = minUint32(maxHoldCycle, t.LowPeriod>>1)

	if freq > fastModeHz {
		cycle = cycle * freq / fastModeHz
	} else if cycle > maxHoldCycle {
		cycle = maxHoldCycle
	}
	t.StopHold = cycle << 1
	t.StopSetup = cycle
	t.StartHold = cycle
	t.RestartSetup = cycle
	return t
}

// Cycle is the full SCL period in source clock cycles.
func (t Timing) Cycle() uint32 {
	return t.HighPeriod + t.LowPeriod + highOffset(t.Filter) + 1
}

// Hz is the SCL frequency the timing produces.
func (t Timing) Hz() uint32 {
	return SourceClock / t.Cycle()
}

// The controller adds a fixed number of cycles to the high period,
// one more when the input glitch filter is enabled.
func highOffset(filter bool) uint32 {
	if filter {
		return 8
	}
	return 7
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
