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

package throttle

import (
	"testing"
	"time"

	"github.com/juju/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, config Config) (*Limiter, *testClock) {
	clock := &testClock{now: time.Unix(1600000000, 0)}
	l, err := NewLimiterWithClock(config, clock)
	require.NoError(t, err)
	return l, clock
}

func allowed(l *Limiter, n int) int {
	count := 0
	for i := 0; i < n; i++ {
		if l.Allow() {
			count++
		}
	}
	return count
}

func TestStreamRate(t *testing.T) {
	l, clock := newTestLimiter(t, Config{Rate: 8, Burst: 1})

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, uint64(1), l.Throttled())

	clock.Sleep(time.Second / 8)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	// a long idle period still only allows one through
	clock.Sleep(time.Minute)
	assert.Equal(t, 1, allowed(l, 5))
}

func TestSnapshotBurst(t *testing.T) {
	l, clock := newTestLimiter(t, PerPeriod(10, time.Minute))

	assert.Equal(t, 10, allowed(l, 20))
	clock.Sleep(30 * time.Second)
	assert.Equal(t, 5, allowed(l, 20))
	clock.Sleep(10 * time.Minute)
	assert.Equal(t, 10, allowed(l, 20))
	assert.Equal(t, uint64(35), l.Throttled())
}

func TestZeroRateIsUnlimited(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	assert.Equal(t, 100, allowed(l, 100))
	assert.Zero(t, l.Throttled())
}

func TestSetConfigRefills(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Rate: 1, Burst: 1})
	assert.Equal(t, 1, allowed(l, 3))

	require.NoError(t, l.SetConfig(Config{Rate: 1, Burst: 3}))
	assert.Equal(t, 3, allowed(l, 5))
	assert.Equal(t, int64(3), l.Config().Burst)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultStreamConfig().Validate())
	assert.NoError(t, DefaultSnapshotConfig().Validate())
	assert.Error(t, Config{Rate: -1, Burst: 1}.Validate())
	assert.Error(t, Config{Rate: 1}.Validate())

	_, err := NewLimiter(Config{Rate: 2})
	assert.Error(t, err)
}

var _ ratelimit.Clock = new(realClock)
var _ ratelimit.Clock = new(testClock)

// testClock implements a fake ratelimit.Clock for testing.
type testClock struct {
	now time.Time
}

// Now implements Clock.Now by returning the fake time.
func (c *testClock) Now() time.Time {
	return c.now
}

// Sleep implements Clock.Sleep by advancing the fake time.
func (c *testClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
}
