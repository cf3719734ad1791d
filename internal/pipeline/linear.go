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

package pipeline

import (
	"encoding/json"
	"fmt"
)

// Linear calibrates a reading: y = Multiplier*x + Offset.
type Linear struct {
	Multiplier float64
	Offset     float64
	configPath string
}

func NewLinear(multiplier, offset float64, configPath string) *Linear {
	return &Linear{Multiplier: multiplier, Offset: offset, configPath: configPath}
}

func (l *Linear) Name() string { return "linear" }

func (l *Linear) Apply(x float64) (float64, bool) {
	return l.Multiplier*x + l.Offset, true
}

func (l *Linear) ConfigPath() string { return l.configPath }

func (l *Linear) Configuration() any {
	return struct {
		Multiplier float64 `json:"multiplier"`
		Offset     float64 `json:"offset"`
	}{l.Multiplier, l.Offset}
}

type linearConfig struct {
	Multiplier *float64 `json:"multiplier"`
	Offset     *float64 `json:"offset"`
}

func (l *Linear) decode(raw json.RawMessage) (linearConfig, error) {
	var c linearConfig
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("linear %s: %w", l.configPath, err)
	}
	return c, nil
}

func (l *Linear) CheckConfiguration(raw json.RawMessage) error {
	_, err := l.decode(raw)
	return err
}

func (l *Linear) SetConfiguration(raw json.RawMessage) error {
	c, err := l.decode(raw)
	if err != nil {
		return err
	}
	if c.Multiplier != nil {
		l.Multiplier = *c.Multiplier
	}
	if c.Offset != nil {
		l.Offset = *c.Offset
	}
	return nil
}
