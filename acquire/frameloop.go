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

package acquire

import (
	"sync"

	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
)

func NewFrameLoop(size int) *FrameLoop {
	frames := make([]*mlx90640.TempFrame, size)
	for i := range frames {
		frames[i] = new(mlx90640.TempFrame)
	}
	return &FrameLoop{
		size:         size,
		currentIndex: size - 1,
		frames:       frames,
	}
}

// FrameLoop keeps the last few temperature frames in a ring. One goroutine
// writes into Next and then calls Move; any goroutine may copy frames out.
// The frame after the current one is reserved for the writer, so readers
// see at most size-1 frames.
type FrameLoop struct {
	size         int
	currentIndex int
	written      uint64
	frames       []*mlx90640.TempFrame
	mu           sync.Mutex
}

func (fl *FrameLoop) nextIndexAfter(index int) int {
	return (index + 1) % fl.size
}

// Next returns the frame the writer fills before calling Move.
func (fl *FrameLoop) Next() *mlx90640.TempFrame {
	return fl.frames[fl.nextIndexAfter(fl.currentIndex)]
}

// Move publishes the frame returned by Next and returns it.
func (fl *FrameLoop) Move() *mlx90640.TempFrame {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	fl.currentIndex = fl.nextIndexAfter(fl.currentIndex)
	fl.written++
	return fl.frames[fl.currentIndex]
}

// Back returns the frame published n moves ago, or nil if there is none.
// Only the writer may use the result.
func (fl *FrameLoop) Back(n int) *mlx90640.TempFrame {
	if n < 0 || n >= fl.size-1 || uint64(n) >= fl.written {
		return nil
	}
	return fl.frames[(fl.currentIndex-n+fl.size)%fl.size]
}

// Count is the number of frames published.
func (fl *FrameLoop) Count() uint64 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.written
}

// CopyRecent copies the newest frame into dst. It returns false before the
// first Move.
func (fl *FrameLoop) CopyRecent(dst *mlx90640.TempFrame) bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.written == 0 {
		return false
	}
	*dst = *fl.frames[fl.currentIndex]
	return true
}

// GetHistory returns copies of the published frames from oldest to newest.
func (fl *FrameLoop) GetHistory() []mlx90640.TempFrame {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	n := fl.size - 1
	if fl.written < uint64(n) {
		n = int(fl.written)
	}
	history := make([]mlx90640.TempFrame, n)
	for i := range history {
		history[i] = *fl.frames[(fl.currentIndex-n+1+i+fl.size)%fl.size]
	}
	return history
}
