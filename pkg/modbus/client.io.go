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
	"encoding/binary"
	"fmt"
	"math"
)

// ReadTyped reads a register value and converts it into the requested type T.
// Supported T: float64, int, bool
func ReadTyped[T any](c *Client, name string) (T, error) {
	var zero T

	val, err := c.ReadValue(name)
	if err != nil {
		return zero, err
	}

	switch any(zero).(type) {
	case float64:
		f, err := toFloat64(val)
		if err != nil {
			return zero, err
		}
		return any(f).(T), nil

	case int:
		f, err := toFloat64(val)
		if err != nil {
			return zero, err
		}
		return any(int(math.Round(f))).(T), nil

	case bool:
		b, ok := val.(bool)
		if !ok {
			return zero, fmt.Errorf("cannot convert %T to bool", val)
		}
		return any(b).(T), nil

	default:
		return zero, fmt.Errorf("unsupported type parameter %T", zero)
	}
}

// ReadFloat reads a register as float64, applying scale and offset.
func (c *Client) ReadFloat(name string) (float64, error) {
	return ReadTyped[float64](c, name)
}

// ReadValue reads a register by name and returns its decoded value.
func (c *Client) ReadValue(name string) (any, error) {
	regDef, ok := c.config.Registers[name]
	if !ok {
		return nil, fmt.Errorf("register %q not configured", name)
	}

	n, err := registerCount(regDef.DataType)
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", name, err)
	}

	raw, err := c.ReadRegisters(regDef.Type, regDef.Address, n)
	if err != nil {
		return nil, fmt.Errorf("register read failed for %s: %w", name, err)
	}
	return decode(regDef, raw)
}

// decode turns raw big-endian register bytes into a value:
//   - float32 (for float32 or scaled int16/uint16 registers)
//   - int16 / uint16 (unscaled)
//   - bool
func decode(regDef RegisterDef, raw []byte) (any, error) {
	n, err := registerCount(regDef.DataType)
	if err != nil {
		return nil, err
	}
	if len(raw) < int(n)*2 {
		return nil, fmt.Errorf("insufficient data: got %d bytes, want %d", len(raw), n*2)
	}

	var valf64 float64
	switch regDef.DataType {
	case "float32":
		valf64 = float64(math.Float32frombits(binary.BigEndian.Uint32(raw)))
		if regDef.Scale == 0 {
			return float32(valf64), nil
		}

	case "int16":
		v := int16(binary.BigEndian.Uint16(raw))
		if regDef.Scale == 0 {
			return v, nil
		}
		valf64 = float64(v)

	case "uint16":
		v := binary.BigEndian.Uint16(raw)
		if regDef.Scale == 0 {
			return v, nil
		}
		valf64 = float64(v)

	case "bool", "binary":
		return binary.BigEndian.Uint16(raw) != 0, nil
	}

	return float32(valf64*regDef.Scale + regDef.Offset), nil
}

func registerCount(dataType string) (uint16, error) {
	switch dataType {
	case "uint16", "int16", "bool", "binary":
		return 1, nil
	case "float32":
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported data type %q", dataType)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}
