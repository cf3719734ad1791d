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
	"boatmon/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/yryz/ds18b20"
)

var ErrNoSensorAvailable = errors.New("no unclaimed one-wire sensor on the bus")

// DS18B20 reports -127 °C when a probe drops off the bus mid-conversion.
const disconnectedC = -127.0

const kelvinOffset = 273.15

// W1Driver is the part of a one-wire driver the bus needs.
type W1Driver interface {
	Sensors() ([]string, error)
	Temperature(id string) (float64, error)
}

// SysfsW1 reads DS18B20 probes through the Linux w1 sysfs tree
// (/sys/bus/w1/devices). The bus pin is set by the w1-gpio overlay.
type SysfsW1 struct{}

func (SysfsW1) Sensors() ([]string, error)             { return ds18b20.Sensors() }
func (SysfsW1) Temperature(id string) (float64, error) { return ds18b20.Temperature(id) }

// OneWireBus hands out probe addresses to the temperature sensors sharing
// one bus pin. Probes are assigned in declaration order unless a sensor
// asks for a specific address.
type OneWireBus struct {
	pin    int
	driver W1Driver
	log    *logger.Logger

	mu       sync.Mutex
	known    []string
	claimed  map[string]bool
	reserved map[string]bool
}

func NewOneWireBus(pin int, driver W1Driver) *OneWireBus {
	return &OneWireBus{
		pin:      pin,
		driver:   driver,
		claimed:  make(map[string]bool),
		reserved: make(map[string]bool),
		log:      logger.New("OneWire"),
	}
}

func (b *OneWireBus) Pin() int { return b.pin }

// Discover rescans the bus and returns every address it sees.
func (b *OneWireBus) Discover() ([]string, error) {
	ids, err := b.driver.Sensors()
	if err != nil {
		return nil, fmt.Errorf("one-wire scan on pin %d: %w", b.pin, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if !slices.Contains(b.known, id) {
			b.log.Info("found probe %s on pin %d", id, b.pin)
			b.known = append(b.known, id)
		}
	}
	return append([]string(nil), b.known...), nil
}

// Reserve sets addr aside for the sensor that has it stored, so probes
// without a stored address never pick it.
func (b *OneWireBus) Reserve(addr string) {
	if addr == "" {
		return
	}
	b.mu.Lock()
	b.reserved[addr] = true
	b.mu.Unlock()
}

// Release undoes Reserve.
func (b *OneWireBus) Release(addr string) {
	b.mu.Lock()
	delete(b.reserved, addr)
	b.mu.Unlock()
}

// Claim takes an address for good. A non-empty preferred address is taken
// as is, even if the probe is not present yet. Otherwise the first probe
// found on the bus that is neither claimed nor reserved is handed out.
func (b *OneWireBus) Claim(preferred string) (string, error) {
	if preferred != "" {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.claimed[preferred] {
			return "", fmt.Errorf("one-wire address %s already claimed", preferred)
		}
		b.claimed[preferred] = true
		return preferred, nil
	}

	if _, err := b.Discover(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.known {
		if !b.claimed[id] && !b.reserved[id] {
			b.claimed[id] = true
			return id, nil
		}
	}
	return "", ErrNoSensorAvailable
}

func (b *OneWireBus) temperature(id string) (float64, error) {
	return b.driver.Temperature(id)
}

// OneWireTemperature reads one probe and reports Kelvin.
type OneWireTemperature struct {
	bus        *OneWireBus
	configPath string

	mu        sync.Mutex
	address   string
	claimed   bool
	readDelay time.Duration
	onClaim   func()
}

func NewOneWireTemperature(bus *OneWireBus, readDelay time.Duration, configPath string) *OneWireTemperature {
	return &OneWireTemperature{
		bus:        bus,
		readDelay:  readDelay,
		configPath: configPath,
	}
}

func (t *OneWireTemperature) Name() string { return "onewire" + t.configPath }

func (t *OneWireTemperature) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readDelay
}

// Address returns the probe in use, empty until the first successful claim.
func (t *OneWireTemperature) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.claimed {
		return ""
	}
	return t.address
}

// OnClaim registers fn to run once a probe address has been assigned, so
// the assignment can be persisted.
func (t *OneWireTemperature) OnClaim(fn func()) {
	t.mu.Lock()
	t.onClaim = fn
	t.mu.Unlock()
}

func (t *OneWireTemperature) Read(ctx context.Context) (float64, error) {
	t.mu.Lock()
	var notify func()
	if !t.claimed {
		addr, err := t.bus.Claim(t.address)
		if err != nil {
			t.mu.Unlock()
			return 0, err
		}
		t.address = addr
		t.claimed = true
		notify = t.onClaim
	}
	addr := t.address
	t.mu.Unlock()

	if notify != nil {
		notify()
	}

	c, err := t.bus.temperature(addr)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", addr, err)
	}
	if c == disconnectedC {
		return 0, fmt.Errorf("probe %s: disconnected", addr)
	}
	return c + kelvinOffset, nil
}

type oneWireConfig struct {
	Address     string `json:"address"`
	ReadDelayMs int    `json:"read_delay_ms"`
}

func (t *OneWireTemperature) ConfigPath() string { return t.configPath }

func (t *OneWireTemperature) Configuration() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return oneWireConfig{Address: t.address, ReadDelayMs: int(t.readDelay / time.Millisecond)}
}

func (t *OneWireTemperature) decode(raw json.RawMessage) (oneWireConfig, error) {
	var c oneWireConfig
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("onewire %s: %w", t.configPath, err)
	}
	if c.ReadDelayMs < 0 {
		return c, fmt.Errorf("onewire %s: negative read_delay_ms", t.configPath)
	}
	return c, nil
}

func (t *OneWireTemperature) CheckConfiguration(raw json.RawMessage) error {
	_, err := t.decode(raw)
	return err
}

func (t *OneWireTemperature) SetConfiguration(raw json.RawMessage) error {
	c, err := t.decode(raw)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.claimed {
		return fmt.Errorf("onewire %s: already reading probe %s", t.configPath, t.address)
	}
	if c.Address != t.address {
		t.bus.Release(t.address)
		t.bus.Reserve(c.Address)
	}
	t.address = c.Address
	if c.ReadDelayMs > 0 {
		t.readDelay = time.Duration(c.ReadDelayMs) * time.Millisecond
	}
	return nil
}
