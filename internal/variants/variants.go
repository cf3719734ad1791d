// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package variants holds the firmware configurations of the two hardware
// revisions. They differ in the seacock input pin, its Signal K path and
// whether settings are wiped at start.
package variants

import (
	"boatmon/internal/outputs"
	"boatmon/internal/pipeline"
	"boatmon/internal/sensors"
	"boatmon/pkg/eventbus"
	"boatmon/pkg/signalk"
	"fmt"
	"slices"
	"time"
)

// Temperature is one probe on the shared one-wire bus. ConfigName prefixes
// the config paths of its stages, e.g. /coolantTemperature/linear.
type Temperature struct {
	ConfigName string
	SKPath     string
	Multiplier float64
	Offset     float64
}

type Digital struct {
	Pin        int
	Interval   time.Duration
	Invert     bool
	SKPath     string
	ConfigPath string
	Meta       signalk.Meta
}

type Variant struct {
	Name         string
	ResetStorage bool
	ReadDelay    time.Duration
	Temperatures []Temperature
	Digital      Digital
}

// Hardware is what a variant needs from the board.
type Hardware struct {
	OneWire     *sensors.OneWireBus
	InputPullUp func(pin int) (sensors.Pin, error)
}

var engineTemperatures = []Temperature{
	{ConfigName: "coolantTemperature", SKPath: "propulsion.mainEngine.coolantTemperature", Multiplier: 1.0, Offset: 0.0},
	{ConfigName: "exhaustTemperature", SKPath: "propulsion.mainEngine.exhaustTemperature", Multiplier: 1.0, Offset: 0.0},
	{ConfigName: "12vAltTemperature", SKPath: "electrical.alternators.12V.temperature", Multiplier: 1.0, Offset: 0.0},
}

// Seacock is the revision with the seacock switch on GPIO 17. It wipes
// persisted settings at every start.
var Seacock = Variant{
	Name:         "seacock",
	ResetStorage: true,
	ReadDelay:    500 * time.Millisecond,
	Temperatures: engineTemperatures,
	Digital: Digital{
		Pin:        17,
		Interval:   time.Second,
		SKPath:     "sensors.seacock_open.value",
		ConfigPath: "/sensors/seacock_open/value",
		Meta:       signalk.Meta{DisplayName: "Seacock Open"},
	},
}

// DigitalInput2 is the revision with the input on GPIO 14, published under
// the generic digital input path.
var DigitalInput2 = Variant{
	Name:         "digital-input2",
	ReadDelay:    500 * time.Millisecond,
	Temperatures: engineTemperatures,
	Digital: Digital{
		Pin:        14,
		Interval:   time.Second,
		SKPath:     "sensors.digital_input2.value",
		ConfigPath: "/sensors/digital_input2/value",
		Meta:       signalk.Meta{DisplayName: "Digital input 2 value"},
	},
}

var all = []Variant{Seacock, DigitalInput2}

func Names() []string {
	names := make([]string, len(all))
	for i, v := range all {
		names[i] = v.Name
	}
	return names
}

func Get(name string) (Variant, error) {
	i := slices.IndexFunc(all, func(v Variant) bool { return v.Name == name })
	if i < 0 {
		return Variant{}, fmt.Errorf("unknown variant %q (have %v)", name, Names())
	}
	return all[i], nil
}

// Wire declares the variant's pipelines on reg:
//
//	OneWireTemperature -> Linear -> SKOutputFloat   (per probe)
//	DigitalInput -> SKOutputBool
func (v Variant) Wire(reg *pipeline.Registry, bus *eventbus.Bus, hw Hardware) error {
	for _, t := range v.Temperatures {
		probe := sensors.NewOneWireTemperature(hw.OneWire, v.ReadDelay, "/"+t.ConfigName+"/oneWire")
		pipeline.From(reg, t.ConfigName, probe).
			Then(pipeline.NewLinear(t.Multiplier, t.Offset, "/"+t.ConfigName+"/linear")).
			To(outputs.NewSKOutputFloat(bus, t.SKPath, "/"+t.ConfigName+"/skPath", nil))
	}

	pin, err := hw.InputPullUp(v.Digital.Pin)
	if err != nil {
		return fmt.Errorf("variant %s: digital input on pin %d: %w", v.Name, v.Digital.Pin, err)
	}
	meta := v.Digital.Meta
	input := sensors.NewDigitalInput(pin, v.Digital.Pin, v.Digital.Interval, v.Digital.Invert)
	pipeline.From(reg, fmt.Sprintf("digitalInput%d", v.Digital.Pin), input).
		To(outputs.NewSKOutputBool(bus, v.Digital.SKPath, v.Digital.ConfigPath, &meta))
	return nil
}
