// Package streamerController calls the thermal-streamer D-Bus service.
package streamerController

import (
	"encoding/json"

	"github.com/godbus/dbus"
)

const (
	dbusPath   = "/org/cacophony/thermalstreamer"
	dbusDest   = "org.cacophony.thermalstreamer"
	methodBase = "org.cacophony.thermalstreamer"
)

// Stats is the daemon's view of the camera, as returned by GetStats.
type Stats struct {
	Rate           string  `json:"rate"`
	NoiseFilter    int     `json:"noise-filter"`
	Emissivity     int     `json:"emissivity"`
	Palette        string  `json:"palette"`
	AutoRange      bool    `json:"auto-range"`
	Quality        int     `json:"quality"`
	Frames         uint64  `json:"frames"`
	Failures       uint64  `json:"failures"`
	Recoveries     uint64  `json:"recoveries"`
	Skipped        uint64  `json:"skipped"`
	StreamClients  int     `json:"stream-clients"`
	StreamFrames   uint64  `json:"stream-frames"`
	StreamDropped  uint64  `json:"stream-dropped"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	Avg            float64 `json:"avg"`
	Median         float64 `json:"median"`
	Center         float64 `json:"center"`
	DegradedPixels bool    `json:"degraded-pixels"`
}

func getDbusObj() (dbus.BusObject, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusDest, dbusPath)
	return obj, nil
}

// SetRefreshRate takes a rate name such as "16Hz".
func SetRefreshRate(rate string) error {
	obj, err := getDbusObj()
	if err != nil {
		return err
	}
	return obj.Call(methodBase+".SetRefreshRate", 0, rate).Store()
}

func SetNoiseFilter(strength int) error {
	obj, err := getDbusObj()
	if err != nil {
		return err
	}
	return obj.Call(methodBase+".SetNoiseFilter", 0, int32(strength)).Store()
}

func SetEmissivity(percent int) error {
	obj, err := getDbusObj()
	if err != nil {
		return err
	}
	return obj.Call(methodBase+".SetEmissivity", 0, int32(percent)).Store()
}

func SetPalette(name string) error {
	obj, err := getDbusObj()
	if err != nil {
		return err
	}
	return obj.Call(methodBase+".SetPalette", 0, name).Store()
}

// SetAutoRange turns on automatic ranging, or fixes the palette span to
// lower..upper degrees when auto is false.
func SetAutoRange(auto bool, lower, upper float64) error {
	obj, err := getDbusObj()
	if err != nil {
		return err
	}
	return obj.Call(methodBase+".SetAutoRange", 0, auto, lower, upper).Store()
}

func ListPalettes() ([]string, error) {
	obj, err := getDbusObj()
	if err != nil {
		return nil, err
	}
	var names []string
	err = obj.Call(methodBase+".ListPalettes", 0).Store(&names)
	return names, err
}

func SetQuality(quality int) error {
	obj, err := getDbusObj()
	if err != nil {
		return err
	}
	return obj.Call(methodBase+".SetQuality", 0, int32(quality)).Store()
}

func GetStats() (*Stats, error) {
	obj, err := getDbusObj()
	if err != nil {
		return nil, err
	}
	var out string
	if err := obj.Call(methodBase+".GetStats", 0).Store(&out); err != nil {
		return nil, err
	}
	stats := new(Stats)
	if err := json.Unmarshal([]byte(out), stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// TakeSnapshot saves the next rendered frame as a JPEG on the camera and
// returns its path.
func TakeSnapshot() (string, error) {
	obj, err := getDbusObj()
	if err != nil {
		return "", err
	}
	var path string
	err = obj.Call(methodBase+".TakeSnapshot", 0).Store(&path)
	return path, err
}
