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
	"time"
)

// RegisterReader is satisfied by *modbus.Client.
type RegisterReader interface {
	ReadFloat(name string) (float64, error)
}

// ModbusRegister polls one named register as a float.
type ModbusRegister struct {
	client   RegisterReader
	register string
	interval time.Duration
}

func NewModbusRegister(client RegisterReader, register string, interval time.Duration) *ModbusRegister {
	return &ModbusRegister{client: client, register: register, interval: interval}
}

func (m *ModbusRegister) Name() string            { return "modbus:" + m.register }
func (m *ModbusRegister) Interval() time.Duration { return m.interval }

func (m *ModbusRegister) Read(ctx context.Context) (float64, error) {
	return m.client.ReadFloat(m.register)
}
