// Copyright 2018 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TheCacophonyProject/thermal-streamer/streamerController"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the settings, counters and latest temperatures",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := streamerController.GetStats()
		if err != nil {
			return err
		}
		if statsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		printStats(cmd, s)
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save a JPEG of the current image on the camera",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := streamerController.TakeSnapshot()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the raw JSON")
	rootCmd.AddCommand(statsCmd, snapshotCmd)
}

func printStats(cmd *cobra.Command, s *streamerController.Stats) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "rate\t%s\n", s.Rate)
	fmt.Fprintf(w, "noise filter\t%d\n", s.NoiseFilter)
	fmt.Fprintf(w, "emissivity\t%d%%\n", s.Emissivity)
	rng := "fixed"
	if s.AutoRange {
		rng = "auto"
	}
	fmt.Fprintf(w, "palette\t%s (%s range)\n", s.Palette, rng)
	fmt.Fprintf(w, "quality\t%d\n", s.Quality)
	fmt.Fprintf(w, "frames\t%d (%d skipped)\n", s.Frames, s.Skipped)
	fmt.Fprintf(w, "read failures\t%d (%d recoveries)\n", s.Failures, s.Recoveries)
	fmt.Fprintf(w, "stream\t%d clients, %d images, %d dropped\n", s.StreamClients, s.StreamFrames, s.StreamDropped)
	fmt.Fprintf(w, "min / max\t%.2f / %.2f\n", s.Min, s.Max)
	fmt.Fprintf(w, "avg / median\t%.2f / %.2f\n", s.Avg, s.Median)
	fmt.Fprintf(w, "centre\t%.2f\n", s.Center)
	if s.DegradedPixels {
		fmt.Fprintln(w, "calibration\tdegraded, some pixels are interpolated")
	}
	w.Flush()
}
