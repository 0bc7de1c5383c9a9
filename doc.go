// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mcp9808 controls a Microchip MCP9808 temperature sensor over I²C.
// The sensor has a typical accuracy of ±0.25°C over the -40°C to +125°C range
// and programmable upper, lower and critical alert limits with hysteresis.
// The mcp9808.Dev type implements the physic.SenseEnv interface. The
// physic.Env measurement results contain a temperature value though pressure
// and humidity are not set.
//
// # Datasheet
//
// https://ww1.microchip.com/downloads/en/DeviceDoc/25095A.pdf
package mcp9808
