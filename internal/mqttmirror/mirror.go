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

// Package mqttmirror republishes every output value to an MQTT broker, one
// topic per Signal K path.
package mqttmirror

import (
	"boatmon/internal/events"
	"boatmon/pkg/eventbus"
	"boatmon/pkg/logger"
	"context"
	"encoding/json"
	"strings"
	"time"
)

type Publisher interface {
	Connect(timeout time.Duration) error
	Publish(subTopic string, payload []byte)
	Disconnect()
}

type message struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type Mirror struct {
	pub   Publisher
	bus   *eventbus.Bus
	paths []string
	log   *logger.Logger
}

func New(pub Publisher, bus *eventbus.Bus, paths []string) *Mirror {
	return &Mirror{
		pub:   pub,
		bus:   bus,
		paths: paths,
		log:   logger.New("MQTTMirror"),
	}
}

// Topic maps a Signal K path to its sub-topic: dots become slashes.
func Topic(path string) string {
	return strings.ReplaceAll(path, ".", "/")
}

func (m *Mirror) Run(ctx context.Context) {
	m.log.Info("Running... mirroring %d paths", len(m.paths))
	if err := m.pub.Connect(5 * time.Second); err != nil {
		m.log.Error("connect: %v", err)
	}
	defer m.pub.Disconnect()

	values := m.bus.SubscribeAll(ctx, events.PathTopics(m.paths), true)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Stopped")
			return
		case ev, ok := <-values:
			if !ok {
				return
			}
			pv, ok := ev.(events.PathValue)
			if !ok {
				continue
			}
			payload, err := json.Marshal(message{Value: pv.Value, Timestamp: pv.Time.UTC()})
			if err != nil {
				m.log.Error("%s: %v", pv.Path, err)
				continue
			}
			m.pub.Publish(Topic(pv.Path), payload)
		}
	}
}
