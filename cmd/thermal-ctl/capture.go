// Copyright 2018 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/TheCacophonyProject/thermal-streamer/headers"
	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
)

var captureOpts struct {
	socket string
	frames int
	out    string
	raw    bool
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record temperature frames from the frame socket",
	Long: `Record temperature frames from the frame socket.

By default each line of the output is one full 32x24 image in degrees,
written once both subpages have arrived. With --raw the socket header and
binary frames are saved as received.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o := captureOpts
		if o.frames < 1 {
			return fmt.Errorf("frames must be at least 1")
		}
		conn, err := net.Dial("unixpacket", o.socket)
		if err != nil {
			return err
		}
		defer conn.Close()

		var out io.Writer = cmd.OutOrStdout()
		var file *bufferedFile
		if o.out != "" && o.out != "-" {
			if file, err = newBufferedFile(o.out); err != nil {
				return err
			}
			out = file
		}

		bar := progressbar.NewOptions(o.frames,
			progressbar.OptionSetDescription("capturing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		defer bar.Finish()
		n, err := capture(cmd.Context(), conn, o.frames, out, o.raw, func(h *headers.HeaderInfo) {
			bar.Describe(fmt.Sprintf("%s %s %dx%d @ %gHz", h.Brand(), h.Model(), h.ResX(), h.ResY(), h.FPS()))
		}, func() { bar.Add(1) })
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "\nstopped after %d frames\n", n)
			err = nil
		}
		if file == nil {
			return err
		}
		if err != nil {
			file.Discard()
			return err
		}
		return file.Close()
	},
}

func init() {
	f := captureCmd.Flags()
	f.StringVarP(&captureOpts.socket, "socket", "s", "/var/run/thermal-frames", "frame socket of the streamer")
	f.IntVarP(&captureOpts.frames, "frames", "n", 100, "number of subpage frames to read")
	f.StringVarP(&captureOpts.out, "out", "o", "", "output file (default stdout)")
	f.BoolVar(&captureOpts.raw, "raw", false, "save the header and binary frames unchanged")
	rootCmd.AddCommand(captureCmd)
}

// capture reads up to n frames from conn, stopping early when ctx is
// cancelled. It returns the number of frames read.
func capture(ctx context.Context, conn net.Conn, n int, out io.Writer, raw bool, gotHeader func(*headers.HeaderInfo), tick func()) (int, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r := bufio.NewReader(conn)
	h, err := headers.ReadHeaderInfo(r)
	if err != nil {
		return 0, ctxErr(ctx, fmt.Errorf("reading header: %w", err))
	}
	if h.FrameSize() != mlx90640.FrameBytes {
		return 0, fmt.Errorf("unexpected frame size %d", h.FrameSize())
	}
	gotHeader(h)

	var sink frameSink
	if raw {
		if err := headers.WriteHeaderInfo(out, h); err != nil {
			return 0, err
		}
		sink = &rawSink{w: out}
	} else {
		sink = newCSVSink(out)
	}

	buf := make([]byte, mlx90640.FrameBytes)
	var f mlx90640.TempFrame
	count := 0
	for count < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return count, ctxErr(ctx, err)
		}
		if err := f.UnmarshalBinary(buf); err != nil {
			return count, err
		}
		if err := sink.add(buf, &f); err != nil {
			return count, err
		}
		count++
		tick()
	}
	return count, sink.flush()
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

type frameSink interface {
	add(packet []byte, f *mlx90640.TempFrame) error
	flush() error
}

type rawSink struct {
	w io.Writer
}

func (s *rawSink) add(packet []byte, _ *mlx90640.TempFrame) error {
	_, err := s.w.Write(packet)
	return err
}

func (s *rawSink) flush() error { return nil }

// csvSink writes one row per frame once an image from both subpages
// exists.
type csvSink struct {
	w     *csv.Writer
	image assembler
	row   []string
	index int
}

func newCSVSink(w io.Writer) *csvSink {
	return &csvSink{
		w:   csv.NewWriter(w),
		row: make([]string, 2+mlx90640.Pixels),
	}
}

func (s *csvSink) add(_ []byte, f *mlx90640.TempFrame) error {
	s.index++
	if !s.image.add(f) {
		return nil
	}
	s.row[0] = strconv.Itoa(s.index)
	s.row[1] = strconv.Itoa(f.Subpage)
	for i, v := range s.image.pix {
		s.row[2+i] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	return s.w.Write(s.row)
}

func (s *csvSink) flush() error {
	s.w.Flush()
	return s.w.Error()
}

// assembler combines the newest frame of each subpage into a full image.
type assembler struct {
	pix  [mlx90640.Pixels]float64
	seen [2]bool
}

// add returns true once both subpages have been seen.
func (a *assembler) add(f *mlx90640.TempFrame) bool {
	sp := f.Subpage & 1
	for cell, v := range f.Data {
		a.pix[mlx90640.CellPixel(cell, sp)] = mlx90640.ToCelsius(v)
	}
	a.seen[sp] = true
	return a.seen[0] && a.seen[1]
}
