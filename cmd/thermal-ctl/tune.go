// Copyright 2018 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
	"github.com/TheCacophonyProject/thermal-streamer/streamerController"
)

var rateCmd = &cobra.Command{
	Use:   "rate <rate>",
	Short: "Set the sensor refresh rate, e.g. 8Hz",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := mlx90640.ParseRate(args[0])
		if err != nil {
			return err
		}
		return streamerController.SetRefreshRate(r.String())
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter <strength>",
	Short: fmt.Sprintf("Set the noise filter strength, 0 (off) to %d", mlx90640.MaxFilterStrength),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := intArg(args[0], 0, mlx90640.MaxFilterStrength)
		if err != nil {
			return err
		}
		return streamerController.SetNoiseFilter(n)
	},
}

var emissivityCmd = &cobra.Command{
	Use:   "emissivity <percent>",
	Short: "Set the emissivity used for all pixels, 1-100",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := intArg(args[0], 1, 100)
		if err != nil {
			return err
		}
		return streamerController.SetEmissivity(n)
	},
}

var qualityCmd = &cobra.Command{
	Use:   "quality <1-100>",
	Short: "Set the JPEG quality of the stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := intArg(args[0], 1, 100)
		if err != nil {
			return err
		}
		return streamerController.SetQuality(n)
	},
}

var paletteCmd = &cobra.Command{
	Use:   "palette [name]",
	Short: "Set the colour palette, or list them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return streamerController.SetPalette(args[0])
		}
		names, err := streamerController.ListPalettes()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var rangeCmd = &cobra.Command{
	Use:   "range auto | range <low> <high>",
	Short: "Follow the scene or fix the span of the palette in degrees",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		auto, low, high, err := parseRange(args)
		if err != nil {
			return err
		}
		return streamerController.SetAutoRange(auto, low, high)
	},
}

func init() {
	rootCmd.AddCommand(rateCmd, filterCmd, emissivityCmd, qualityCmd, paletteCmd, rangeCmd)
}

func intArg(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d not in %d-%d", n, lo, hi)
	}
	return n, nil
}

func parseRange(args []string) (auto bool, low, high float64, err error) {
	if len(args) == 1 {
		if args[0] != "auto" {
			return false, 0, 0, fmt.Errorf("expected auto or two temperatures, got %q", args[0])
		}
		return true, 0, 0, nil
	}
	if low, err = strconv.ParseFloat(args[0], 64); err != nil {
		return false, 0, 0, fmt.Errorf("bad low temperature %q", args[0])
	}
	if high, err = strconv.ParseFloat(args[1], 64); err != nil {
		return false, 0, 0, fmt.Errorf("bad high temperature %q", args[1])
	}
	if high <= low {
		return false, 0, 0, fmt.Errorf("high %.1f must be above low %.1f", high, low)
	}
	return false, low, high, nil
}
