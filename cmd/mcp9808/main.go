// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command mcp9808 polls an MCP9808 sensor and prints each reading with a
// temperature-mapped color block, flagging readings that crossed the
// programmed alert limits.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"time"

	"github.com/GermanBionicSystems/mcp9808"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

func celsius(deg float64) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(deg*float64(physic.Celsius))
}

// tempColor maps a temperature between low and high to a blue-to-red scale.
func tempColor(t, low, high physic.Temperature) color.NRGBA {
	if t < low {
		t = low
	}
	if t > high {
		t = high
	}
	f := float64(t-low) / float64(high-low)
	return color.NRGBA{R: uint8(255 * f), B: uint8(255 * (1 - f)), A: 255}
}

func mainImpl() error {
	busName := flag.String("bus", "", "I²C bus to use (default: the first available)")
	addr := flag.Uint("addr", uint(mcp9808.DefaultAddress), "I²C address of the sensor")
	interval := flag.Duration("interval", time.Second, "poll interval")
	upper := flag.Float64("upper", 0, "upper alert limit in °C (0 leaves the register untouched)")
	lower := flag.Float64("lower", 0, "lower alert limit in °C (0 leaves the register untouched)")
	critical := flag.Float64("critical", 0, "critical alert limit in °C (0 leaves the register untouched)")
	flag.Parse()

	if _, err := host.Init(); err != nil {
		return err
	}
	b, err := i2creg.Open(*busName)
	if err != nil {
		return err
	}
	defer b.Close()

	opts := &mcp9808.Opts{Resolution: mcp9808.Sixteenth}
	if *upper != 0 {
		opts.UpperLimit = celsius(*upper)
	}
	if *lower != 0 {
		opts.LowerLimit = celsius(*lower)
	}
	if *critical != 0 {
		opts.CriticalLimit = celsius(*critical)
	}
	dev, err := mcp9808.NewI2C(b, i2c.Addr(*addr), opts)
	if err != nil {
		return err
	}
	defer dev.Halt()

	out := colorable.NewColorableStdout()
	for {
		t, status, err := dev.Temperature()
		if err != nil {
			return err
		}
		marker := ""
		switch {
		case status.AboveCritical:
			marker = " CRITICAL"
		case status.AboveUpper:
			marker = " above upper limit"
		case status.BelowLower:
			marker = " below lower limit"
		}
		block := ansi256.Default.Block(tempColor(t, celsius(-10), celsius(40)))
		fmt.Fprintf(out, "%s\033[0m %s%s\n", block, t, marker)
		time.Sleep(*interval)
	}
}

func main() {
	if err := mainImpl(); err != nil {
		log.Fatalf("mcp9808: %v", err)
	}
}
