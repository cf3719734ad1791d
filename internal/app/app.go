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

// Package app builds the node: storage, pipelines and the services that
// carry their values off the board.
package app

import (
	"boatmon/internal/config"
	"boatmon/internal/confstore"
	"boatmon/internal/history"
	"boatmon/internal/mqttmirror"
	"boatmon/internal/outputs"
	"boatmon/internal/pipeline"
	"boatmon/internal/sensors"
	"boatmon/internal/skstream"
	"boatmon/internal/variants"
	"boatmon/pkg/eventbus"
	"boatmon/pkg/logger"
	"boatmon/pkg/modbus"
	"boatmon/pkg/mqtt"
	"boatmon/pkg/rootserv"
	"boatmon/pkg/service"
	"boatmon/pkg/signalk"
	"boatmon/pkg/sysmon"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"
)

// Hardware is the board access the app needs. Tests pass fakes.
type Hardware struct {
	OneWire     sensors.W1Driver
	InputPullUp func(pin int) (sensors.Pin, error)
}

// App owns everything built at start-up. The pipeline set is complete
// once New returns.
type App struct {
	Config   *config.Config
	Variant  variants.Variant
	Bus      *eventbus.Bus
	Store    *confstore.Store
	Registry *pipeline.Registry
	OneWire  *sensors.OneWireBus

	Streamer *skstream.Streamer
	History  *history.Service
	Mirror   *mqttmirror.Mirror
	Web      *rootserv.RootServer

	modbus *modbus.Client
	log    *logger.Logger
}

func New(ctx context.Context, conf *config.Config, hw Hardware) (*App, error) {
	a := &App{
		Config: conf,
		Bus:    conf.EventBus,
		log:    logger.New("App"),
	}
	if a.Bus == nil {
		a.Bus = eventbus.New()
	}

	v, err := variants.Get(conf.Variant)
	if err != nil {
		return nil, err
	}
	a.Variant = v
	a.log.Info("variant %s", v.Name)

	// storage
	a.Store, err = confstore.Open(conf.DataDir)
	if err != nil {
		return nil, err
	}
	if v.ResetStorage || conf.Storage.ResetOnStart {
		if err := a.Store.Reset(); err != nil {
			return nil, err
		}
	}

	// pipelines
	a.Registry = pipeline.NewRegistry()
	a.OneWire = sensors.NewOneWireBus(conf.OneWire.Pin, hw.OneWire)
	if err := v.Wire(a.Registry, a.Bus, variants.Hardware{OneWire: a.OneWire, InputPullUp: hw.InputPullUp}); err != nil {
		return nil, err
	}
	if err := a.wireModbus(ctx); err != nil {
		return nil, err
	}

	a.applyStoredSettings()
	a.Store.SetValidator(a.checkSetting)

	if err := a.Registry.Validate(); err != nil {
		return nil, fmt.Errorf("pipelines: %w", err)
	}

	// services
	paths := a.Registry.SKPaths()
	meta := a.pathMeta()

	a.Streamer = skstream.New(conf.SignalK, conf.Network.Hostname, a.Bus, paths, meta, a.Store)
	a.History = history.New(a.Bus, paths, meta, history.Options{
		Retention:     time.Duration(conf.History.RetentionHours) * time.Hour,
		SnapshotEvery: time.Duration(conf.History.SnapshotMinutes) * time.Minute,
		DataDir:       conf.DataDir,
	})
	if conf.MQTT.Enabled() {
		client := mqtt.NewClient(mqtt.Options{
			Broker:    conf.MQTT.Broker,
			Port:      conf.MQTT.Port,
			Username:  conf.MQTT.Username,
			Password:  conf.MQTT.Password,
			RootTopic: conf.MQTT.RootTopic,
			ClientID:  conf.Network.Hostname,
		})
		a.Mirror = mqttmirror.New(client, a.Bus, paths)
	}

	a.Web = rootserv.New(conf.Web.Addr, conf.Network.Hostname)
	a.Web.Attach("/logger", "Logger", logger.WebService())
	a.Web.Attach("/monitor", "System Monitor", sysmon.New(conf.DataDir, a.nodeStats))
	a.Web.Attach("/config", "Stored settings (apply after restart)", a.Store)
	a.Web.Attach("/values", "Sensor values and history", a.History)

	a.log.Info("%d pipelines, %d paths", len(a.Registry.Pipelines()), len(paths))
	return a, nil
}

// wireModbus adds one pipeline per register that names a Signal K path:
// ModbusRegister -> Linear -> SKOutputFloat.
func (a *App) wireModbus(ctx context.Context) error {
	file := a.Config.ModbusFile
	if !filepath.IsAbs(file) {
		file = filepath.Join(a.Config.RootDir, file)
	}
	mc, err := modbus.LoadConfig(file)
	if err != nil {
		return err
	}
	if mc == nil || mc.Modbus.Host == "" {
		a.log.Debug("no modbus sources (%s)", file)
		return nil
	}

	a.modbus = modbus.NewClient(ctx, mc)
	for _, name := range slices.Sorted(maps.Keys(mc.Registers)) {
		def := mc.Registers[name]
		if def.SKPath == "" {
			continue
		}
		if err := signalk.ValidatePath(def.SKPath); err != nil {
			return fmt.Errorf("modbus register %q: %w", name, err)
		}
		var meta *signalk.Meta
		if def.Units != "" || def.DisplayName != "" {
			meta = &signalk.Meta{Units: def.Units, DisplayName: def.DisplayName, Description: def.Description}
		}
		src := sensors.NewModbusRegister(a.modbus, name, time.Duration(def.IntervalMs)*time.Millisecond)
		pipeline.From(a.Registry, "modbus:"+name, src).
			Then(pipeline.NewLinear(1.0, 0.0, "/modbus/"+name+"/linear")).
			To(outputs.NewSKOutputFloat(a.Bus, def.SKPath, "/modbus/"+name+"/skPath", meta))
	}
	return nil
}

// applyStoredSettings loads persisted settings into every configurable
// stage. A stored value that no longer fits, or binds a path another sink
// already has, is replaced by the stage's defaults. One-wire sensors
// persist their address once claimed.
func (a *App) applyStoredSettings() {
	for _, c := range a.Registry.Configurables() {
		if raw, ok := a.Store.Get(c.ConfigPath()); ok {
			if err := a.Registry.CheckConfiguration(c.ConfigPath(), raw, nil); err != nil {
				a.log.Error("stored %v, keeping defaults", err)
				a.Store.Discard(c.ConfigPath())
			}
		}
		if err := a.Store.Apply(c); err != nil {
			a.log.Error("%v, keeping defaults", err)
		}
		if t, ok := c.(*sensors.OneWireTemperature); ok {
			t.OnClaim(func() {
				a.log.Info("%s uses probe %s", t.ConfigPath(), t.Address())
				if err := a.Store.Put(t.ConfigPath(), t.Configuration()); err != nil {
					a.log.Error("%v", err)
				}
			})
		}
	}
	if err := a.Store.Save(); err != nil {
		a.log.Error("%v", err)
	}
}

// checkSetting vets a setting sent to /config. Settings the node keeps for
// itself, like the access token, have no stage to check against.
func (a *App) checkSetting(path string, raw json.RawMessage) error {
	err := a.Registry.CheckConfiguration(path, raw, a.Store.Get)
	if errors.Is(err, pipeline.ErrUnknownConfig) {
		return nil
	}
	return err
}

func (a *App) pathMeta() map[string]signalk.Meta {
	meta := make(map[string]signalk.Meta)
	for _, s := range a.Registry.Sinks() {
		po, ok := s.(pipeline.PathOwner)
		if !ok {
			continue
		}
		if m, ok := s.(interface{ Meta() *signalk.Meta }); ok && m.Meta() != nil {
			meta[po.SKPath()] = *m.Meta()
		}
	}
	return meta
}

func (a *App) nodeStats() map[string]any {
	return map[string]any{
		"hostname":      a.Config.Network.Hostname,
		"variant":       a.Variant.Name,
		"pipelines":     len(a.Registry.Pipelines()),
		"deltas_sent":   a.Streamer.Sent(),
		"bus_events":    a.Bus.Stats().Events,
		"bus_dropped":   a.Bus.Stats().Dropped,
		"onewire_pin":   a.OneWire.Pin(),
		"settings_file": a.Store.File(),
	}
}

// Runnables returns the scheduler and every service, ready for
// service.Start.
func (a *App) Runnables() []service.Runnable {
	rs := []service.Runnable{
		service.Func(a.Registry.Run),
		a.Streamer,
		a.History,
	}
	if a.Mirror != nil {
		rs = append(rs, a.Mirror)
	}
	return append(rs, a.Web)
}

func (a *App) Close() {
	if a.modbus != nil {
		a.modbus.Close()
	}
	a.Bus.Close()
}
