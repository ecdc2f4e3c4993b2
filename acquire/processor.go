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

package acquire

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
	tomb "gopkg.in/tomb.v2"
)

const tempSlots = 4

// Source is where the processor takes raw frames from. *Loop is one.
type Source interface {
	Notify() <-chan struct{}
	Latest(dst *mlx90640.RawFrame) (uint64, bool)
	Params() *mlx90640.Params
}

// Processor turns published raw frames into temperature frames.
type Processor struct {
	source   Source
	settings *Settings
	frames   *FrameLoop
	tomb     *tomb.Tomb
	raw      mlx90640.RawFrame
	lastSeq  uint64

	skipped atomic.Uint64

	mu          sync.Mutex
	subscribers map[chan struct{}]struct{}
}

func NewProcessor(source Source, settings *Settings) *Processor {
	return &Processor{
		source:      source,
		settings:    settings,
		frames:      NewFrameLoop(tempSlots),
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// Frames is the ring the temperature frames are published to.
func (p *Processor) Frames() *FrameLoop {
	return p.frames
}

// Skipped is the number of raw frames that were overwritten before the
// processor got to them.
func (p *Processor) Skipped() uint64 {
	return p.skipped.Load()
}

func (p *Processor) Start() error {
	if p.tomb != nil {
		return errors.New("processor already running")
	}
	p.tomb = new(tomb.Tomb)
	p.tomb.Go(p.run)
	return nil
}

func (p *Processor) Stop() error {
	if p.tomb == nil {
		return nil
	}
	p.tomb.Kill(nil)
	err := p.tomb.Wait()
	p.tomb = nil
	return err
}

// Subscribe returns a channel that receives a value whenever new frames
// are published, and a function to stop the subscription.
func (p *Processor) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		delete(p.subscribers, ch)
		p.mu.Unlock()
	}
}

func (p *Processor) run() error {
	for {
		select {
		case <-p.tomb.Dying():
			return tomb.ErrDying
		case <-p.source.Notify():
		}

		seq, ok := p.source.Latest(&p.raw)
		if !ok || seq == p.lastSeq {
			continue
		}
		if p.lastSeq != 0 && seq > p.lastSeq+1 {
			p.skipped.Add(seq - p.lastSeq - 1)
		}
		p.lastSeq = seq

		params := p.source.Params()
		if params == nil {
			continue
		}
		p.Process(params, &p.raw)
	}
}

// Process computes and publishes the temperature frame for raw. The noise
// filter and the deviating pixels use the newest earlier frame of the same
// subpage, normally the one two back.
func (p *Processor) Process(params *mlx90640.Params, raw *mlx90640.RawFrame) *mlx90640.TempFrame {
	var prev *mlx90640.TempFrame
	for n := 0; n < 2; n++ {
		if f := p.frames.Back(n); f != nil && f.Subpage == raw.Subpage() {
			prev = f
			break
		}
	}

	out := p.frames.Next()
	emissivity := float64(p.settings.Emissivity()) / 100
	params.CalculateTo(raw, emissivity, params.Tr(raw), out, prev, p.settings.FilterLevel())
	out.UpdateStats(p.settings.MonitorArea())
	p.frames.Move()

	p.mu.Lock()
	for ch := range p.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	p.mu.Unlock()
	return out
}
