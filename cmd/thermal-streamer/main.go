// Copyright 2018 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"fmt"
	"log"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	arg "github.com/alexflint/go-arg"
	"github.com/coreos/go-systemd/daemon"
	"github.com/maruel/interrupt"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"github.com/TheCacophonyProject/thermal-streamer/acquire"
	"github.com/TheCacophonyProject/thermal-streamer/loglimiter"
	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
)

const (
	// At 0.5Hz this pings the watchdog every 16 seconds.
	framesPerSdNotify = 8

	// With no frame for this long the sensor is power cycled.
	stallTimeout = 10 * time.Second

	framesHz = 32 // at the default rate

	frameLogIntervalFirstMin = 15 * framesHz
	frameLogInterval         = 60 * 5 * framesHz

	readErrLogInterval = 10 * time.Second
)

var version = "<not set>"

type Args struct {
	ConfigFile string `arg:"-c,--config" help:"path to configuration file"`
	ConfigDir  string `arg:"--config-dir" help:"path to the device configuration directory"`
	Quick      bool   `arg:"-q,--quick" help:"don't cycle sensor power on startup"`
	Timestamps bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigFile = "/etc/thermal-streamer.yaml"
	args.ConfigDir = goconfig.DefaultConfigDir
	arg.MustParse(&args)
	return args
}

// busErr is a failure the sensor may recover from after a power cycle.
type busErr struct {
	cause error
}

func (e *busErr) Error() string {
	return e.cause.Error()
}

type deviceInfo struct {
	ID   int
	Name string
}

func readDeviceInfo(configDir string) (deviceInfo, error) {
	configRW, err := goconfig.New(configDir)
	if err != nil {
		return deviceInfo{}, err
	}
	var device goconfig.Device
	if err := configRW.Unmarshal(goconfig.DeviceKey, &device); err != nil {
		return deviceInfo{}, err
	}
	return deviceInfo{ID: device.ID, Name: device.Name}, nil
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()
	if !args.Timestamps {
		log.SetFlags(0) // Removes default timestamp flag
	}

	log.Printf("version: %s", version)
	conf, err := ParseConfigFile(args.ConfigFile)
	if err != nil {
		return err
	}
	logConfig(conf)

	device, err := readDeviceInfo(args.ConfigDir)
	if err != nil {
		log.Printf("device identity not available: %v", err)
	} else {
		log.Printf("device: %s (%d)", device.Name, device.ID)
	}

	log.Print("host initialisation")
	if _, err := host.Init(); err != nil {
		return err
	}

	if !args.Quick {
		if err := cycleSensorPower(conf.PowerPin); err != nil {
			return err
		}
	}

	interrupt.HandleCtrlC()

	cam, err := newCamera(conf, device)
	if err != nil {
		return err
	}
	log.Printf("camera: %v", cam)
	cam.streamer.SetLogFunc(func(s string) { log.Print(s) })
	if err := cam.streamer.Start(); err != nil {
		return err
	}
	defer cam.streamer.Stop()

	log.Print("starting d-bus service")
	if err := startService(cam); err != nil {
		return err
	}

	srv, err := startServer(conf.Listen, cam)
	if err != nil {
		return err
	}
	defer srv.Close()

	var output *frameOutput
	if conf.FrameOutput != "" {
		output, err = startFrameOutput(conf.FrameOutput, cam.headerInfo)
		if err != nil {
			return err
		}
		defer output.Close()
	}

	go func() {
		if err := watchConfig(args.ConfigFile, cam); err != nil {
			log.Printf("config file watch stopped: %v", err)
		}
	}()

	for !interrupt.IsSet() {
		err := runSensor(conf, cam, output)
		if err != nil {
			if _, isBusErr := err.(*busErr); !isBusErr {
				return err
			}
			log.Printf("sensor error: %v", err)
		}
		if interrupt.IsSet() {
			break
		}
		if err := cycleSensorPower(conf.PowerPin); err != nil {
			return err
		}
	}
	log.Print("shutting down")
	return nil
}

// runSensor opens the bus and streams frames until interrupted or the
// sensor stops producing them.
func runSensor(conf *Config, cam *camera, output *frameOutput) error {
	bus, closeBus, err := openBus(conf)
	if err != nil {
		return &busErr{err}
	}
	defer closeBus()
	log.Printf("sensor bus: %v", bus)

	readErrs := loglimiter.New(readErrLogInterval)
	sensor := mlx90640.New(bus)
	sensor.SetLogFunc(func(s string) { log.Print(s) })
	loop := acquire.NewLoop(sensor, cam.settings)
	loop.SetLogFunc(readErrs.Print)
	proc := acquire.NewProcessor(loop, cam.settings)

	if err := loop.Start(); err != nil {
		return err
	}
	defer loop.Stop()
	if err := proc.Start(); err != nil {
		return err
	}
	defer proc.Stop()
	cam.attach(loop, proc, sensor)
	defer cam.detach()

	frames, unsubscribe := proc.Subscribe()
	defer unsubscribe()

	stall := time.NewTimer(stallTimeout)
	defer stall.Stop()
	notifyCount := 0
	totalFrames := 0
	var warned bool
	for {
		select {
		case <-interrupt.Channel:
			return nil
		case <-stall.C:
			return &busErr{fmt.Errorf("no frames for %v", stallTimeout)}
		case <-frames:
		}
		stall.Reset(stallTimeout)

		if notifyCount++; notifyCount >= framesPerSdNotify {
			daemon.SdNotify(false, "WATCHDOG=1")
			notifyCount = 0
		}
		if totalFrames++; totalFrames%frameLogIntervalFirstMin == 0 &&
			totalFrames <= 60*framesHz || totalFrames%frameLogInterval == 0 {
			log.Printf("%d frames from the sensor", totalFrames)
		}
		if w := sensor.Warning(); w.Degraded() && !warned {
			log.Printf("calibration degraded: %v", w)
			warned = true
		}

		cam.renderFrame()
		if output != nil {
			output.publish(proc.Frames())
		}
	}
}

func logConfig(conf *Config) {
	log.Printf("bus: %s", conf.Bus)
	if conf.Bus == busGPIO {
		log.Printf("SDA pin: %s, SCL pin: %s", conf.SDAPin, conf.SCLPin)
	} else {
		log.Printf("I2C bus: %q", conf.I2CBus)
	}
	log.Printf("power pin: %s", conf.PowerPin)
	log.Printf("frame output: %s", conf.FrameOutput)
	log.Printf("listen: %s", conf.Listen)
	log.Printf("sensor: %+v", conf.Sensor)
	log.Printf("render: %+v", conf.Render)
	log.Printf("stream: %+v", conf.Stream)
}

func cycleSensorPower(pinName string) error {
	if pinName == "" {
		return nil
	}

	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return fmt.Errorf("failed to find sensor power pin %q", pinName)
	}

	log.Print("turning sensor power off")
	if err := pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to set sensor power pin low: %v", err)
	}
	time.Sleep(time.Second)

	log.Print("turning sensor power on")
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to set sensor power pin high: %v", err)
	}

	// the first frames after power up are not usable anyway
	log.Print("waiting for sensor startup")
	time.Sleep(2 * time.Second)
	return nil
}
