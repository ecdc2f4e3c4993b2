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

package render

import (
	"fmt"
	"sort"
	"strings"
)

// Palette maps a temperature index (0 is the bottom of the range, 255 the
// top) to an RGB565 colour.
type Palette struct {
	Name   string
	Colour [256]uint16
}

type stop struct {
	pos     int
	r, g, b uint8
}

var paletteStops = map[string][]stop{
	"iron": {
		{0, 0x00, 0x00, 0x00},
		{40, 0x20, 0x00, 0x8C},
		{96, 0xA0, 0x00, 0x9C},
		{160, 0xF0, 0x50, 0x00},
		{216, 0xFF, 0xC0, 0x00},
		{255, 0xFF, 0xFF, 0xF0},
	},
	"rainbow": {
		{0, 0x00, 0x00, 0x80},
		{48, 0x00, 0x00, 0xFF},
		{96, 0x00, 0xFF, 0xFF},
		{144, 0x00, 0xFF, 0x00},
		{192, 0xFF, 0xFF, 0x00},
		{255, 0xFF, 0x00, 0x00},
	},
	"grey": {
		{0, 0x00, 0x00, 0x00},
		{255, 0xFF, 0xFF, 0xFF},
	},
}

const DefaultPalette = "iron"

var palettes = func() map[string]*Palette {
	m := make(map[string]*Palette, len(paletteStops))
	for name, stops := range paletteStops {
		m[name] = gradient(name, stops)
	}
	return m
}()

// PaletteNames lists the built in palettes.
func PaletteNames() []string {
	names := make([]string, 0, len(palettes))
	for name := range palettes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PaletteByName looks a palette up, ignoring case.
func PaletteByName(name string) (*Palette, error) {
	p, ok := palettes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown palette %q (have %s)", name, strings.Join(PaletteNames(), ", "))
	}
	return p, nil
}

func gradient(name string, stops []stop) *Palette {
	p := &Palette{Name: name}
	for i := 1; i < len(stops); i++ {
		a, b := stops[i-1], stops[i]
		span := b.pos - a.pos
		for x := a.pos; x <= b.pos; x++ {
			t := x - a.pos
			p.Colour[x] = RGB565(
				lerp8(a.r, b.r, t, span),
				lerp8(a.g, b.g, t, span),
				lerp8(a.b, b.b, t, span),
			)
		}
	}
	return p
}

func lerp8(a, b uint8, t, span int) uint8 {
	return uint8((int(a)*(span-t) + int(b)*t + span/2) / span)
}

// RGB565 packs an 8 bit per channel colour.
func RGB565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}
