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

package main

import (
	"log"
	"path/filepath"
	"time"

	"github.com/maruel/interrupt"
	fsnotify "gopkg.in/fsnotify.v1"
)

// Editors often write a file in several steps.
const reloadDelay = 500 * time.Millisecond

// watchConfig applies the live settings from the config file whenever it
// changes, until interrupted. The directory is watched so a file replaced
// by rename is still seen.
func watchConfig(fileName string, cam *camera) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(fileName)); err != nil {
		return err
	}

	var reload <-chan time.Time
	for {
		select {
		case <-interrupt.Channel:
			return nil
		case err := <-watcher.Errors:
			return err
		case ev := <-watcher.Events:
			if filepath.Clean(ev.Name) != filepath.Clean(fileName) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload = time.After(reloadDelay)
			}
		case <-reload:
			reload = nil
			reloadConfig(fileName, cam)
		}
	}
}

func reloadConfig(fileName string, cam *camera) {
	conf, err := ParseConfigFile(fileName)
	if err != nil {
		log.Printf("config not reloaded: %v", err)
		return
	}
	if err := cam.applyConfig(conf); err != nil {
		log.Printf("config not reloaded: %v", err)
		return
	}
	log.Print("config reloaded (bus, pins, canvas and listen address need a restart)")
}
