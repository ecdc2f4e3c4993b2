// Copyright 2018 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheCacophonyProject/thermal-streamer/mlx90640"
)

const eepromBytes = mlx90640.EEPROMWords * 2

var eepromCmd = &cobra.Command{
	Use:   "eeprom <file>",
	Short: "Decode a saved sensor EEPROM image and report its calibration",
	Long: `Decode a saved sensor EEPROM image and report its calibration.

The file is either the raw 1664 bytes as read over I2C (big endian) or
text holding the 832 words in hex.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		ee, err := parseEEPROM(data)
		if err != nil {
			return err
		}
		p, warn, err := mlx90640.ExtractParams(ee)
		if err != nil {
			return err
		}
		printParams(cmd.OutOrStdout(), p, warn)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eepromCmd)
}

func parseEEPROM(data []byte) ([]uint16, error) {
	if len(data) == eepromBytes {
		ee := make([]uint16, mlx90640.EEPROMWords)
		for i := range ee {
			ee[i] = binary.BigEndian.Uint16(data[i*2:])
		}
		return ee, nil
	}

	var ee []uint16
	s := bufio.NewScanner(bytes.NewReader(data))
	s.Split(bufio.ScanWords)
	for s.Scan() {
		word := strings.TrimSuffix(strings.TrimPrefix(strings.ToLower(s.Text()), "0x"), ",")
		v, err := strconv.ParseUint(word, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("word %d: %q is not hex", len(ee), s.Text())
		}
		ee = append(ee, uint16(v))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(ee) != mlx90640.EEPROMWords {
		return nil, fmt.Errorf("expected %d words, found %d", mlx90640.EEPROMWords, len(ee))
	}
	return ee, nil
}

func printParams(w io.Writer, p *mlx90640.Params, warn mlx90640.Warning) {
	fmt.Fprintf(w, "kVdd %d, Vdd25 %d\n", p.KVdd, p.Vdd25)
	fmt.Fprintf(w, "KvPTAT %.6f, KtPTAT %.4f, VPTAT25 %d, alphaPTAT %.3f\n", p.KvPTAT, p.KtPTAT, p.VPTAT25, p.AlphaPTAT)
	fmt.Fprintf(w, "gain %d, TGC %.4f, resolution %d\n", p.GainEE, p.TGC, p.ResolutionEE)
	fmt.Fprintf(w, "KsTa %.6f\n", p.KsTa)
	for i := range p.KsTo {
		fmt.Fprintf(w, "KsTo[%d] %.6f from %d°C\n", i, p.KsTo[i], p.CT[i])
	}
	fmt.Fprintf(w, "CP alpha %.4g %.4g, offset %d %d, Kv %.4f, Kta %.5f\n",
		p.CPAlpha[0], p.CPAlpha[1], p.CPOffset[0], p.CPOffset[1], p.CPKv, p.CPKta)
	fmt.Fprintf(w, "ILChess %.4f %.4f %.4f\n", p.ILChessC[0], p.ILChessC[1], p.ILChessC[2])
	fmt.Fprintf(w, "broken pixels %s\n", pixelList(p.BrokenPixels[:]))
	fmt.Fprintf(w, "outlier pixels %s\n", pixelList(p.OutlierPixels[:]))
	if warn.Degraded() {
		fmt.Fprintf(w, "warning: %v\n", warn)
	}
}

func pixelList(list []uint16) string {
	var out []string
	for _, px := range list {
		if px == mlx90640.NoPixel {
			break
		}
		out = append(out, fmt.Sprintf("%d (%d,%d)", px, px%mlx90640.Cols, px/mlx90640.Cols))
	}
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, ", ")
}
