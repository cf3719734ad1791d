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

package config

import (
	"boatmon/pkg/eventbus"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
)

type NetworkConfig struct {
	// identifies the node to the Signal K server
	Hostname string `json:"hostname"`

	// The host OS joins the network; these are kept so a provisioning
	// script can read them from the same file.
	WifiSSID     string `json:"wifi_ssid"`
	WifiPassword string `json:"wifi_password"`
}

type SignalKConfig struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	TLS   bool   `json:"tls"`
	Token string `json:"token"`

	// ask the server for a token when none is configured
	RequestAccess bool `json:"request_access"`

	FlushIntervalMs  int `json:"flush_interval_ms"`
	ReconnectSeconds int `json:"reconnect_seconds"`
}

// BaseURL is http(s)://host:port, or empty when no server is configured.
func (c SignalKConfig) BaseURL() string {
	if c.Host == "" {
		return ""
	}
	scheme := "http"
	if c.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

type StorageConfig struct {
	// erase persisted settings at every start; the variant may also ask for it
	ResetOnStart bool `json:"reset_on_start"`
}

type OneWireConfig struct {
	Pin int `json:"pin"`
}

type WebConfig struct {
	Addr string `json:"addr"`
}

type HistoryConfig struct {
	RetentionHours  int `json:"retention_hours"`
	SnapshotMinutes int `json:"snapshot_minutes"`
}

type MQTTConfig struct {
	Broker    string `json:"broker"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	RootTopic string `json:"root_topic"`
}

func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

type Config struct {
	Variant    string        `json:"variant"`
	Network    NetworkConfig `json:"network"`
	SignalK    SignalKConfig `json:"signalk"`
	Storage    StorageConfig `json:"storage"`
	OneWire    OneWireConfig `json:"onewire"`
	Web        WebConfig     `json:"web"`
	History    HistoryConfig `json:"history"`
	MQTT       MQTTConfig    `json:"mqtt"`
	ModbusFile string        `json:"modbus_file"`

	// not loaded from file, but added here to
	// pass to all services alongside config
	EventBus *eventbus.Bus `json:"-"`
	DataDir  string        `json:"-"`
	RootDir  string        `json:"-"`
}

func LoadFile(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open config: %v", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return c
}

// Parse decodes a config and applies defaults.
func Parse(r io.Reader) (*Config, error) {
	var c Config
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Variant == "" {
		c.Variant = "seacock"
	}
	if c.Network.Hostname == "" {
		c.Network.Hostname = "Blackwater"
	}
	if c.SignalK.Port == 0 {
		c.SignalK.Port = 3000
	}
	if c.SignalK.FlushIntervalMs == 0 {
		c.SignalK.FlushIntervalMs = 500
	}
	if c.SignalK.ReconnectSeconds == 0 {
		c.SignalK.ReconnectSeconds = 5
	}
	if c.OneWire.Pin == 0 {
		c.OneWire.Pin = 4
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":80"
	}
	if c.History.RetentionHours == 0 {
		c.History.RetentionHours = 24
	}
	if c.History.SnapshotMinutes == 0 {
		c.History.SnapshotMinutes = 15
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.RootTopic == "" {
		c.MQTT.RootTopic = "boatmon"
	}
	if c.ModbusFile == "" {
		c.ModbusFile = "var/config/modbus.yml"
	}
}
