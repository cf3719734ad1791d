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

package modbus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Modbus    ModbusConfig           `yaml:"modbus"`
	Registers map[string]RegisterDef `yaml:"registers"`
}

type ModbusConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	SlaveID byte   `yaml:"slave_id"`
	Timeout int    `yaml:"timeout"` // seconds
}

type RegisterDef struct {
	Address     uint16  `yaml:"address"`
	Type        string  `yaml:"type"`      // "holding" (default) or "input"
	DataType    string  `yaml:"data_type"` // "uint16", "int16", "bool", "float32"
	Scale       float64 `yaml:"scale"`     // if set, integer registers are read as scaled floats
	Offset      float64 `yaml:"offset"`
	Description string  `yaml:"description"`

	// Signal K binding; registers without a path are not polled.
	SKPath      string `yaml:"sk_path"`
	Units       string `yaml:"units"`
	DisplayName string `yaml:"display_name"`
	IntervalMs  int    `yaml:"interval_ms"`
}

// LoadConfig reads a register file. A missing file is not an error: it
// returns nil and the node runs without Modbus sources.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read modbus config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse modbus config: %w", err)
	}
	if config.Modbus.Port == 0 {
		config.Modbus.Port = 502
	}
	if config.Modbus.SlaveID == 0 {
		config.Modbus.SlaveID = 1
	}
	if config.Modbus.Timeout == 0 {
		config.Modbus.Timeout = 2
	}
	for name, reg := range config.Registers {
		if reg.IntervalMs == 0 {
			reg.IntervalMs = 1000
		}
		if reg.Type == "" {
			reg.Type = "holding"
		}
		switch reg.Type {
		case "holding", "input":
		default:
			return nil, fmt.Errorf("register %q: unsupported type %q", name, reg.Type)
		}
		if _, err := registerCount(reg.DataType); err != nil {
			return nil, fmt.Errorf("register %q: %w", name, err)
		}
		config.Registers[name] = reg
	}
	return &config, nil
}
