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

// Package mlx90640 decodes the calibration EEPROM of a Melexis MLX90640
// far infrared array and turns raw subpage frames into fixed point
// temperatures.
package mlx90640

import (
	"fmt"
	"strings"
)

const (
	Address      = 0x33
	DefaultBusHz = 800000

	Cols   = 32
	Rows   = 24
	Pixels = Cols * Rows
	// Cells is the number of temperatures computed per subpage. Cell i
	// holds one pixel of the pair (2i, 2i+1), picked by the chess pattern.
	Cells     = Pixels / 2
	CellsWide = Cols / 2

	FrameWords  = 834
	EEPROMWords = 832

	// Temperatures are stored as (celsius + DataOffset) << DataRatioShift.
	DataRatioShift = 7
	DataRatio      = 1 << DataRatioShift
	DataOffset     = 64

	// NoPixel terminates the broken and outlier pixel lists.
	NoPixel = Pixels

	maxDeviating = 5
)

const (
	regEEPROM  = 0x2400
	regRAM     = 0x0400
	regStatus  = 0x8000
	regControl = 0x800D
)

// RawFrame is one subpage read from the sensor: 832 words of RAM, the
// control register at 832 and the subpage number at 833.
type RawFrame [FrameWords]uint16

func (f *RawFrame) Subpage() int {
	return int(f[833] & 1)
}

// Rate is the sensor refresh rate as programmed into the control register.
type Rate uint8

const (
	Rate0_5Hz Rate = iota
	Rate1Hz
	Rate2Hz
	Rate4Hz
	Rate8Hz
	Rate16Hz
	Rate32Hz
	Rate64Hz
)

var rateNames = []string{"0.5Hz", "1Hz", "2Hz", "4Hz", "8Hz", "16Hz", "32Hz", "64Hz"}

func (r Rate) String() string {
	return rateNames[r&7]
}

// Hz is the subpage rate.
func (r Rate) Hz() float64 {
	return float64(int(1)<<(r&7)) / 2
}

// BusHz is the I2C speed needed to read a subpage within one period.
func (r Rate) BusHz() uint32 {
	hz := uint32(9375) << (r & 7)
	if hz < 100000 {
		hz = 100000
	}
	return hz
}

// ParseRate accepts names such as "32Hz" or "0.5hz".
func ParseRate(s string) (Rate, error) {
	for i, name := range rateNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Rate(i), nil
		}
	}
	return 0, fmt.Errorf("invalid refresh rate %q", s)
}

// Spot is a temperature at a pixel location.
type Spot struct {
	Temp uint16
	X, Y int
}

// TempFrame holds the temperatures computed from one subpage plus the
// statistics of the monitor area.
type TempFrame struct {
	Subpage int
	Data    [Cells]uint16

	Min    Spot
	Max    Spot
	Avg    uint16
	Median uint16
	Center uint16
}

// CellPixel returns the pixel number held by cell i for a subpage.
func CellPixel(i, subpage int) int {
	il := (i >> 4) & 1
	return i<<1 + (il^subpage)&1
}

// ToCelsius converts a stored temperature to degrees.
func ToCelsius(v uint16) float64 {
	return float64(v)/DataRatio - DataOffset
}

// FromCelsius converts degrees into the stored form, clamped to 16 bits.
func FromCelsius(c float64) uint16 {
	v := (c + DataOffset) * DataRatio
	switch {
	case v <= 0:
		return 0
	case v >= 65535:
		return 65535
	}
	return uint16(v + 0.5)
}

// Warning reports deviating pixels found while decoding the EEPROM. Any
// value other than WarnNone means some pixels are reconstructed from
// their neighbours and the calibration is degraded.
type Warning int

const (
	WarnNone            Warning = 0
	WarnBrokenPixels    Warning = -3
	WarnOutlierPixels   Warning = -4
	WarnDeviatingPixels Warning = -5
	WarnAdjacentPixels  Warning = -6
)

func (w Warning) Degraded() bool {
	return w != WarnNone
}

func (w Warning) String() string {
	switch w {
	case WarnNone:
		return "ok"
	case WarnBrokenPixels:
		return "more than 4 broken pixels"
	case WarnOutlierPixels:
		return "more than 4 outlier pixels"
	case WarnDeviatingPixels:
		return "more than 4 deviating pixels"
	case WarnAdjacentPixels:
		return "adjacent deviating pixels"
	}
	return fmt.Sprintf("warning %d", int(w))
}
