// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp9808_test

import (
	"fmt"
	"log"

	"github.com/GermanBionicSystems/mcp9808"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	// Use i2creg I²C bus registry to find the first available I²C bus.
	b, err := i2creg.Open("")
	if err != nil {
		log.Fatalf("failed to open I²C: %v", err)
	}
	defer b.Close()

	// Create a new MCP9808 device using the I²C bus. nil keeps the device
	// power-up defaults.
	d, err := mcp9808.NewI2C(b, mcp9808.DefaultAddress, nil)
	if err != nil {
		log.Fatalf("failed to initialize MCP9808: %v", err)
	}

	// Read the temperature from the sensor.
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%8s\n", e.Temperature)
}
