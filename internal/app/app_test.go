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

package app

import (
	"boatmon/internal/config"
	"boatmon/internal/events"
	"boatmon/internal/sensors"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeW1 map[string]float64

func (f fakeW1) Sensors() ([]string, error)             { return []string{"28-aa", "28-bb", "28-cc"}, nil }
func (f fakeW1) Temperature(id string) (float64, error) { return f[id], nil }

type fakePin struct{ high bool }

func (p *fakePin) Level() (bool, error) { return p.high, nil }

func testConfig(t *testing.T, variant string) *config.Config {
	t.Helper()
	conf, err := config.Parse(strings.NewReader(`{"variant":"` + variant + `"}`))
	require.NoError(t, err)
	conf.RootDir = t.TempDir()
	conf.DataDir = filepath.Join(conf.RootDir, "var/cache")
	return conf
}

func testHardware(w1 fakeW1, pin *fakePin) Hardware {
	return Hardware{
		OneWire:     w1,
		InputPullUp: func(int) (sensors.Pin, error) { return pin, nil },
	}
}

func TestNewBuildsVariant(t *testing.T) {
	conf := testConfig(t, "seacock")
	a, err := New(context.Background(), conf, testHardware(fakeW1{}, &fakePin{}))
	require.NoError(t, err)
	defer a.Close()

	assert.Len(t, a.Registry.Pipelines(), 4)
	assert.Contains(t, a.Registry.SKPaths(), "sensors.seacock_open.value")
	assert.Nil(t, a.Mirror)
	assert.Len(t, a.Runnables(), 4)

	// defaults are persisted on first start
	raw, ok := a.Store.Get("/coolantTemperature/linear")
	require.True(t, ok)
	assert.JSONEq(t, `{"multiplier":1,"offset":0}`, string(raw))
	assert.Contains(t, a.Store.Paths(), "/sensors/seacock_open/value")
}

func TestUnknownVariant(t *testing.T) {
	conf := testConfig(t, "prototype")
	_, err := New(context.Background(), conf, testHardware(fakeW1{}, &fakePin{}))
	assert.Error(t, err)
}

func writeStore(t *testing.T, conf *config.Config, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(conf.DataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(conf.DataDir, "boatmon.config.json"), []byte(data), 0o644))
}

func TestStoredSettingsApplied(t *testing.T) {
	conf := testConfig(t, "digital-input2")
	writeStore(t, conf, `{"/coolantTemperature/linear":{"multiplier":1,"offset":5}}`)

	a, err := New(context.Background(), conf, testHardware(fakeW1{"28-aa": 75}, &fakePin{}))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Registry.Pipelines()[0].Tick(context.Background()))
	ev, ok := a.Bus.GetLast(events.PathTopic("propulsion.mainEngine.coolantTemperature"))
	require.True(t, ok)
	assert.InDelta(t, 75+273.15+5, ev.(events.PathValue).Value, 1e-9)

	// the claimed probe is remembered
	var probe struct{ Address string }
	found, err := a.Store.Decode("/coolantTemperature/oneWire", &probe)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "28-aa", probe.Address)
}

func TestSeacockVariantResetsStorage(t *testing.T) {
	conf := testConfig(t, "seacock")
	writeStore(t, conf, `{"/coolantTemperature/linear":{"multiplier":1,"offset":5}}`)

	a, err := New(context.Background(), conf, testHardware(fakeW1{}, &fakePin{}))
	require.NoError(t, err)
	defer a.Close()

	raw, _ := a.Store.Get("/coolantTemperature/linear")
	assert.JSONEq(t, `{"multiplier":1,"offset":0}`, string(raw))
}

func TestStoredPathChangesOutput(t *testing.T) {
	conf := testConfig(t, "digital-input2")
	writeStore(t, conf, `{"/sensors/digital_input2/value":{"sk_path":"sensors.bilgeSwitch.value"}}`)

	a, err := New(context.Background(), conf, testHardware(fakeW1{}, &fakePin{}))
	require.NoError(t, err)
	defer a.Close()
	assert.Contains(t, a.Registry.SKPaths(), "sensors.bilgeSwitch.value")
	assert.NotContains(t, a.Registry.SKPaths(), "sensors.digital_input2.value")
}

func TestStoredCollidingPathKeepsDefault(t *testing.T) {
	conf := testConfig(t, "digital-input2")
	writeStore(t, conf, `{"/exhaustTemperature/skPath":{"sk_path":"propulsion.mainEngine.coolantTemperature"}}`)

	a, err := New(context.Background(), conf, testHardware(fakeW1{}, &fakePin{}))
	require.NoError(t, err)
	defer a.Close()

	assert.Contains(t, a.Registry.SKPaths(), "propulsion.mainEngine.exhaustTemperature")
	raw, ok := a.Store.Get("/exhaustTemperature/skPath")
	require.True(t, ok)
	assert.JSONEq(t, `{"sk_path":"propulsion.mainEngine.exhaustTemperature"}`, string(raw))
}

func TestConfigPutRefusesTakenPath(t *testing.T) {
	conf := testConfig(t, "digital-input2")
	a, err := New(context.Background(), conf, testHardware(fakeW1{}, &fakePin{}))
	require.NoError(t, err)
	defer a.Close()
	h := a.Web.Handler()

	put := func(path, body string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/config"+path, strings.NewReader(body)))
		return rec.Code
	}

	assert.Equal(t, http.StatusBadRequest, put("/exhaustTemperature/skPath", `{"sk_path":"propulsion.mainEngine.coolantTemperature"}`))
	assert.Equal(t, http.StatusBadRequest, put("/exhaustTemperature/skPath", `{"sk_path":"Not A Path"}`))
	raw, _ := a.Store.Get("/exhaustTemperature/skPath")
	assert.JSONEq(t, `{"sk_path":"propulsion.mainEngine.exhaustTemperature"}`, string(raw))

	// a path saved for the next start cannot be claimed twice either
	assert.Equal(t, http.StatusNoContent, put("/exhaustTemperature/skPath", `{"sk_path":"propulsion.port.exhaustTemperature"}`))
	assert.Equal(t, http.StatusBadRequest, put("/coolantTemperature/skPath", `{"sk_path":"propulsion.port.exhaustTemperature"}`))

	// settings without a stage pass unchecked
	assert.NoError(t, a.checkSetting("/system/signalk", json.RawMessage(`{"token":""}`)))

	// the stored settings still start cleanly
	again, err := New(context.Background(), conf, testHardware(fakeW1{}, &fakePin{}))
	require.NoError(t, err)
	defer again.Close()
	assert.Contains(t, again.Registry.SKPaths(), "propulsion.port.exhaustTemperature")
}

func TestModbusPipelines(t *testing.T) {
	conf := testConfig(t, "digital-input2")
	yml := `
modbus:
  host: 192.0.2.10
registers:
  house_voltage:
    address: 10
    data_type: uint16
    scale: 0.01
    sk_path: electrical.batteries.house.voltage
    units: V
  unbound:
    address: 11
    data_type: uint16
`
	require.NoError(t, os.MkdirAll(filepath.Join(conf.RootDir, "var/config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(conf.RootDir, conf.ModbusFile), []byte(yml), 0o644))

	a, err := New(context.Background(), conf, testHardware(fakeW1{}, &fakePin{}))
	require.NoError(t, err)
	defer a.Close()

	assert.Len(t, a.Registry.Pipelines(), 5)
	assert.Contains(t, a.Registry.SKPaths(), "electrical.batteries.house.voltage")
	assert.Equal(t, "V", a.pathMeta()["electrical.batteries.house.voltage"].Units)
}

func TestWebRoutes(t *testing.T) {
	conf := testConfig(t, "seacock")
	a, err := New(context.Background(), conf, testHardware(fakeW1{}, &fakePin{}))
	require.NoError(t, err)
	defer a.Close()
	h := a.Web.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var paths []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paths))
	assert.Contains(t, paths, "/exhaustTemperature/oneWire")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/values/api/values", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/monitor/", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"variant":"seacock"`)
	assert.Contains(t, rec.Body.String(), `"onewire_pin":`)
}
