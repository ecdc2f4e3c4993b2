// Copyright 2018 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

// thermal-ctl adjusts a running thermal-streamer over D-Bus and reads its
// frame socket.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maruel/interrupt"
	"github.com/spf13/cobra"
)

var version = "<not set>"

var rootCmd = &cobra.Command{
	Use:          "thermal-ctl",
	Short:        "Control and inspect a running thermal-streamer",
	Version:      version,
	SilenceUsage: true,
}

func main() {
	interrupt.HandleCtrlC()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-interrupt.Channel
		cancel()
	}()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
