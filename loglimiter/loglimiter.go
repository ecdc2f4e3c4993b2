// thermal-streamer - stream calibrated thermal video from an MLX90640 camera
// Copyright (C) 2019, The Cacophony Project
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

package loglimiter

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// New returns a new LogLimiter with the configured minimum log interval.
func New(interval time.Duration) *LogLimiter {
	return &LogLimiter{
		interval: interval,
		nowFunc:  time.Now,
		output:   func(s string) { log.Print(s) },
	}
}

// LogLimiter will suppress log messages if the same log message is
// seen within some time interval. When a suppressed message is next let
// through it says how many times it was repeated.
type LogLimiter struct {
	interval time.Duration
	nowFunc  func() time.Time
	output   func(string)

	mu            sync.Mutex
	previousEntry string
	previousTime  time.Time
	suppressed    int
}

// SetOutput sends messages to f instead of the standard logger.
func (limiter *LogLimiter) SetOutput(f func(string)) {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	limiter.output = f
}

func (limiter *LogLimiter) Printf(format string, v ...interface{}) {
	limiter.Print(fmt.Sprintf(format, v...))
}

func (limiter *LogLimiter) Print(s string) {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := limiter.nowFunc()
	if s == limiter.previousEntry {
		if now.Sub(limiter.previousTime) < limiter.interval {
			limiter.suppressed++
			return
		}
		if limiter.suppressed > 0 {
			limiter.output(fmt.Sprintf("%s (repeated %d times)", s, limiter.suppressed))
			limiter.previousTime = now
			limiter.suppressed = 0
			return
		}
	}

	limiter.output(s)
	limiter.previousTime = now
	limiter.previousEntry = s
	limiter.suppressed = 0
}

// Suppressed is the number of repeats of the last message held back so far.
func (limiter *LogLimiter) Suppressed() int {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	return limiter.suppressed
}
