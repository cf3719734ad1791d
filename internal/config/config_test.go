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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse(strings.NewReader(`{"signalk":{"host":"10.10.10.1"}}`))
	require.NoError(t, err)

	assert.Equal(t, "seacock", c.Variant)
	assert.Equal(t, "Blackwater", c.Network.Hostname)
	assert.Equal(t, 3000, c.SignalK.Port)
	assert.Equal(t, 500, c.SignalK.FlushIntervalMs)
	assert.Equal(t, 5, c.SignalK.ReconnectSeconds)
	assert.Equal(t, 4, c.OneWire.Pin)
	assert.Equal(t, ":80", c.Web.Addr)
	assert.Equal(t, 24, c.History.RetentionHours)
	assert.Equal(t, "boatmon", c.MQTT.RootTopic)
	assert.False(t, c.MQTT.Enabled())
	assert.Equal(t, "http://10.10.10.1:3000", c.SignalK.BaseURL())
}

func TestParseOverrides(t *testing.T) {
	c, err := Parse(strings.NewReader(`{
		"variant": "digital-input2",
		"network": {"hostname": "Greenwater", "wifi_ssid": "nini", "wifi_password": "12345678"},
		"signalk": {"host": "sk.local", "port": 443, "tls": true},
		"storage": {"reset_on_start": true},
		"mqtt": {"broker": "mqtt.local"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "digital-input2", c.Variant)
	assert.Equal(t, "Greenwater", c.Network.Hostname)
	assert.Equal(t, "nini", c.Network.WifiSSID)
	assert.Equal(t, "https://sk.local:443", c.SignalK.BaseURL())
	assert.True(t, c.Storage.ResetOnStart)
	assert.True(t, c.MQTT.Enabled())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"signalk":`))
	assert.Error(t, err)

	c, _ := Parse(strings.NewReader(`{}`))
	assert.Equal(t, "", c.SignalK.BaseURL())
}
