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

// Package acquire polls the sensor for subpages and turns them into
// temperature frames.
package acquire

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
	tomb "gopkg.in/tomb.v2"
)

const (
	rawSlots = 4

	// Starting above recoverAfter makes the first cycle initialise the
	// sensor.
	initialFailures = 255
	recoverAfter    = 128

	// The sensor repeats stale data for two subpages after a rate change.
	discardAfterRateChange = 2

	reinitInterval = 100 * time.Millisecond
)

// backoff is the pause after a failed read, indexed by rate.
var backoff = [8]time.Duration{
	32 * time.Millisecond,
	16 * time.Millisecond,
	8 * time.Millisecond,
	4 * time.Millisecond,
	2 * time.Millisecond,
	time.Millisecond,
	time.Millisecond,
	time.Millisecond,
}

// Sensor is the part of *mlx90640.Device the loop drives.
type Sensor interface {
	Init() error
	Params() *mlx90640.Params
	SetRate(r mlx90640.Rate) error
	ReadFrame(f *mlx90640.RawFrame) error
	Recover() error
}

// LoopStats counts what the loop has done since it started.
type LoopStats struct {
	Frames   uint64
	Failures uint64
	// Recoveries includes the initialisation at start up.
	Recoveries uint64
}

// Loop reads subpages from a Sensor into a ring of raw frames. Only the
// newest complete frame is published; a slow reader skips frames rather
// than holding the loop up.
type Loop struct {
	sensor   Sensor
	settings *Settings
	tomb     *tomb.Tomb
	after    func(time.Duration) <-chan time.Time
	logFunc  func(string)

	rate    mlx90640.Rate
	rateSet bool
	discard int

	mu     sync.Mutex
	slots  [rawSlots]mlx90640.RawFrame
	latest int
	seq    uint64

	params atomic.Pointer[mlx90640.Params]
	notify chan struct{}

	frames     atomic.Uint64
	failures   atomic.Uint64
	recoveries atomic.Uint64
}

func NewLoop(sensor Sensor, settings *Settings) *Loop {
	return &Loop{
		sensor:   sensor,
		settings: settings,
		after:    time.After,
		logFunc:  func(string) {},
		latest:   -1,
		notify:   make(chan struct{}, 1),
	}
}

func (l *Loop) SetLogFunc(f func(string)) {
	l.logFunc = f
}

func (l *Loop) logf(format string, v ...interface{}) {
	l.logFunc(fmt.Sprintf(format, v...))
}

// Start runs the loop until Stop is called.
func (l *Loop) Start() error {
	if l.tomb != nil {
		return errors.New("acquisition already running")
	}
	l.tomb = new(tomb.Tomb)
	l.tomb.Go(l.run)
	return nil
}

// Stop ends the loop once the sensor operation in progress returns.
func (l *Loop) Stop() error {
	if l.tomb == nil {
		return nil
	}
	l.tomb.Kill(nil)
	err := l.tomb.Wait()
	l.tomb = nil
	return err
}

// Notify receives a value after a frame is published. Several frames may
// be published per notification.
func (l *Loop) Notify() <-chan struct{} {
	return l.notify
}

// Latest copies the newest published frame into dst and returns its
// sequence number, starting at 1. It returns false until the first frame.
func (l *Loop) Latest(dst *mlx90640.RawFrame) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq == 0 {
		return 0, false
	}
	*dst = l.slots[l.latest]
	return l.seq, true
}

// Params returns the calibration of the running sensor, nil until it has
// been initialised.
func (l *Loop) Params() *mlx90640.Params {
	return l.params.Load()
}

func (l *Loop) Stats() LoopStats {
	return LoopStats{
		Frames:     l.frames.Load(),
		Failures:   l.failures.Load(),
		Recoveries: l.recoveries.Load(),
	}
}

func (l *Loop) run() error {
	failures := initialFailures
	for {
		select {
		case <-l.tomb.Dying():
			return tomb.ErrDying
		default:
		}

		if failures >= recoverAfter {
			if err := l.reinit(); err != nil {
				return err
			}
			failures = 0
		}

		if rate := l.settings.Rate(); !l.rateSet || rate != l.rate {
			if err := l.sensor.SetRate(rate); err != nil {
				l.logf("setting refresh rate to %v failed: %v", rate, err)
				failures++
				l.failures.Add(1)
				if !l.wait(backoff[rate&7]) {
					return tomb.ErrDying
				}
				continue
			}
			l.rate = rate
			l.rateSet = true
			l.discard = discardAfterRateChange
		}

		// The slot after the published one is never being copied by Latest.
		slot := (l.latest + 1) % rawSlots
		if err := l.sensor.ReadFrame(&l.slots[slot]); err != nil {
			if err != mlx90640.ErrNotReady {
				l.logf("frame read failed: %v", err)
			}
			failures++
			l.failures.Add(1)
			if !l.wait(backoff[l.rate&7]) {
				return tomb.ErrDying
			}
			continue
		}
		failures = 0

		if l.discard > 0 {
			l.discard--
			continue
		}
		l.publish(slot)
	}
}

// reinit frees the bus and initialises the sensor, retrying until it
// works. A dead sensor leaves the last frame published.
func (l *Loop) reinit() error {
	l.logf("initialising sensor")
	recovered := false
	for attempt := 1; ; attempt++ {
		var err error
		if !recovered {
			err = l.sensor.Recover()
			recovered = err == nil
		}
		if recovered {
			if err = l.sensor.Init(); err == nil {
				break
			}
		}
		if attempt == 1 || attempt%100 == 0 {
			l.logf("sensor initialisation failed (attempt %d): %v", attempt, err)
		}
		if !l.wait(reinitInterval) {
			return tomb.ErrDying
		}
	}
	l.params.Store(l.sensor.Params())
	l.rateSet = false
	l.recoveries.Add(1)
	return nil
}

func (l *Loop) publish(slot int) {
	l.frames.Add(1)
	l.mu.Lock()
	l.latest = slot
	l.seq++
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Loop) wait(d time.Duration) bool {
	select {
	case <-l.tomb.Dying():
		return false
	case <-l.after(d):
		return true
	}
}
