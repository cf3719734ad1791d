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

package sensors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
)

// Pin reads a digital input level; true is high.
type Pin interface {
	Level() (bool, error)
}

// GPIO owns the memory-mapped GPIO block. Open it once at start-up and
// Close it on shutdown.
type GPIO struct {
	mu   sync.Mutex
	open bool
}

func (g *GPIO) Open() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return nil
	}
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("gpio open: %w", err)
	}
	g.open = true
	return nil
}

func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return nil
	}
	g.open = false
	return rpio.Close()
}

// InputPullUp configures pin (BCM numbering) as an input with the internal
// pull-up enabled, so an unconnected pin reads high.
func (g *GPIO) InputPullUp(pin int) (Pin, error) {
	if err := g.Open(); err != nil {
		return nil, err
	}
	p := rpio.Pin(pin)
	p.Input()
	p.PullUp()
	return rpioPin{pin: p}, nil
}

type rpioPin struct {
	pin rpio.Pin
}

func (p rpioPin) Level() (bool, error) {
	return p.pin.Read() == rpio.High, nil
}

// DigitalInput polls a pin. By default the value is the pin level as read;
// set Invert for active-low wiring where a closed contact pulls the pin low.
type DigitalInput struct {
	pin      Pin
	number   int
	interval time.Duration
	invert   bool
}

func NewDigitalInput(pin Pin, number int, interval time.Duration, invert bool) *DigitalInput {
	return &DigitalInput{
		pin:      pin,
		number:   number,
		interval: interval,
		invert:   invert,
	}
}

func (d *DigitalInput) Name() string            { return fmt.Sprintf("gpio%d", d.number) }
func (d *DigitalInput) Interval() time.Duration { return d.interval }

func (d *DigitalInput) Read(ctx context.Context) (bool, error) {
	level, err := d.pin.Level()
	if err != nil {
		return false, fmt.Errorf("gpio%d: %w", d.number, err)
	}
	return level != d.invert, nil
}
