// thermal-streamer - stream calibrated thermal video from an MLX90640 camera
//  Copyright (C) 2018, The Cacophony Project
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

// Package throttle limits how often something may happen using a token
// bucket: streamed frames per second, snapshots per minute.
package throttle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"
)

// Limiter lets events through while its bucket holds tokens. The bucket
// starts full.
type Limiter struct {
	clock ratelimit.Clock

	mu     sync.Mutex
	bucket *ratelimit.Bucket
	config Config

	throttled atomic.Uint64
}

func NewLimiter(config Config) (*Limiter, error) {
	return NewLimiterWithClock(config, new(realClock))
}

func NewLimiterWithClock(config Config, clock ratelimit.Clock) (*Limiter, error) {
	l := &Limiter{clock: clock}
	if err := l.SetConfig(config); err != nil {
		return nil, err
	}
	return l, nil
}

// SetConfig replaces the bucket, which starts full again.
func (l *Limiter) SetConfig(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	var bucket *ratelimit.Bucket
	if config.Rate > 0 {
		bucket = ratelimit.NewBucketWithRateAndClock(config.Rate, config.Burst, l.clock)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.config = config
	l.bucket = bucket
	return nil
}

func (l *Limiter) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config
}

// Allow takes a token if there is one. A zero rate lets everything
// through.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	bucket := l.bucket
	l.mu.Unlock()

	if bucket == nil || bucket.TakeAvailable(1) > 0 {
		return true
	}
	l.throttled.Add(1)
	return false
}

// Throttled is the number of events refused.
func (l *Limiter) Throttled() uint64 {
	return l.throttled.Load()
}

// realClock implements ratelimit.Clock in terms of standard time functions.
type realClock struct{}

// Now implements Clock.Now by calling time.Now.
func (realClock) Now() time.Time {
	return time.Now()
}

// Sleep implements Clock.Sleep by calling time.Sleep.
func (realClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
