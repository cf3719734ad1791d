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

package skstream

import (
	"boatmon/internal/config"
	"boatmon/internal/events"
	"boatmon/pkg/eventbus"
	"boatmon/pkg/signalk"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seacockPath = "sensors.seacock_open.value"

type fakeServer struct {
	*httptest.Server
	deltas chan signalk.Delta
	auth   chan string

	mu         sync.Mutex
	dropAfter  int // close the stream after this many deltas, 0 = never
	grantToken string
	reject     string // token answered with 401
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		deltas: make(chan signalk.Delta, 32),
		auth:   make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/signalk", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"endpoints": map[string]any{
				"v1": map[string]string{"signalk-ws": "ws://" + r.Host + "/signalk/v1/stream"},
			},
		})
	})
	mux.HandleFunc("/signalk/v1/stream", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		fs.auth <- auth
		fs.mu.Lock()
		reject := fs.reject
		fs.mu.Unlock()
		if reject != "" && auth == "Bearer "+reject {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(signalk.Hello{Name: "signalk-server", Version: "2.8.0"})

		fs.mu.Lock()
		limit := fs.dropAfter
		fs.mu.Unlock()
		for n := 1; ; n++ {
			var d signalk.Delta
			if err := conn.ReadJSON(&d); err != nil {
				return
			}
			if limit > 0 && n >= limit {
				conn.Close()
				fs.deltas <- d
				return
			}
			fs.deltas <- d
		}
	})
	mux.HandleFunc("/signalk/v1/access/requests", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"state": "PENDING", "href": "/signalk/v1/requests/1"})
	})
	mux.HandleFunc("/signalk/v1/requests/1", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		token := fs.grantToken
		fs.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"state":         "COMPLETED",
			"accessRequest": map[string]string{"permission": "APPROVED", "token": token},
		})
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) config(t *testing.T) config.SignalKConfig {
	u, err := url.Parse(fs.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return config.SignalKConfig{
		Host:             u.Hostname(),
		Port:             port,
		FlushIntervalMs:  20,
		ReconnectSeconds: 1,
	}
}

func (fs *fakeServer) next(t *testing.T) signalk.Delta {
	t.Helper()
	select {
	case d := <-fs.deltas:
		return d
	case <-time.After(3 * time.Second):
		t.Fatal("no delta received")
		return signalk.Delta{}
	}
}

// nextValues skips meta-only deltas.
func (fs *fakeServer) nextValues(t *testing.T) signalk.Update {
	t.Helper()
	for {
		d := fs.next(t)
		require.Len(t, d.Updates, 1)
		if len(d.Updates[0].Values) > 0 {
			return d.Updates[0]
		}
	}
}

func publish(bus *eventbus.Bus, path string, v any) {
	bus.Publish(events.PathTopic(path), events.PathValue{Path: path, Value: v, Time: time.Now()})
}

func start(t *testing.T, s *Streamer) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestStreamerSendsMetaThenValues(t *testing.T) {
	fs := newFakeServer(t)
	bus := eventbus.New()
	meta := map[string]signalk.Meta{seacockPath: {DisplayName: "Seacock Open"}}
	s := New(fs.config(t), "Blackwater", bus, []string{seacockPath}, meta, nil)

	publish(bus, seacockPath, true)
	start(t, s)

	first := fs.next(t)
	require.Len(t, first.Updates, 1)
	assert.Equal(t, "Blackwater", first.Updates[0].Source.Label)
	require.Len(t, first.Updates[0].Meta, 1)
	assert.Equal(t, seacockPath, first.Updates[0].Meta[0].Path)
	assert.Equal(t, "Seacock Open", first.Updates[0].Meta[0].Value.DisplayName)

	u := fs.nextValues(t)
	require.Len(t, u.Values, 1)
	assert.Equal(t, seacockPath, u.Values[0].Path)
	assert.Equal(t, true, u.Values[0].Value)
	assert.Equal(t, "", <-fs.auth)
}

func TestStreamerBatchesLatestValue(t *testing.T) {
	fs := newFakeServer(t)
	bus := eventbus.New()
	cfg := fs.config(t)
	cfg.FlushIntervalMs = 300
	s := New(cfg, "Blackwater", bus, []string{seacockPath, "propulsion.mainEngine.coolantTemperature"}, nil, nil)
	start(t, s)

	publish(bus, "propulsion.mainEngine.coolantTemperature", 350.0)
	publish(bus, "propulsion.mainEngine.coolantTemperature", 351.0)
	publish(bus, seacockPath, false)

	u := fs.nextValues(t)
	got := map[string]any{}
	for _, v := range u.Values {
		got[v.Path] = v.Value
	}
	assert.Equal(t, map[string]any{
		"propulsion.mainEngine.coolantTemperature": 351.0,
		seacockPath: false,
	}, got)
}

func TestStreamerReconnects(t *testing.T) {
	fs := newFakeServer(t)
	fs.dropAfter = 2 // meta, then one value delta
	bus := eventbus.New()
	meta := map[string]signalk.Meta{seacockPath: {DisplayName: "Seacock Open"}}
	s := New(fs.config(t), "Blackwater", bus, []string{seacockPath}, meta, nil)

	publish(bus, seacockPath, true)
	start(t, s)
	assert.Equal(t, true, fs.nextValues(t).Values[0].Value)
	require.Eventually(t, func() bool { return s.client.Load() == nil }, 2*time.Second, 5*time.Millisecond)

	// value arriving while disconnected is delivered after reconnect,
	// preceded by the meta again
	publish(bus, seacockPath, false)
	again := fs.next(t)
	require.NotEmpty(t, again.Updates[0].Meta)
	assert.Equal(t, false, fs.nextValues(t).Values[0].Value)
}

type memTokens struct {
	mu    sync.Mutex
	creds credentials
	puts  int
}

func (m *memTokens) Decode(path string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*(v.(*credentials)) = m.creds
	return m.creds != credentials{}, nil
}

func (m *memTokens) Put(path string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = v.(credentials)
	m.puts++
	return nil
}

func TestStreamerRequestsAccess(t *testing.T) {
	fs := newFakeServer(t)
	fs.grantToken = "granted-token"
	cfg := fs.config(t)
	cfg.RequestAccess = true
	tokens := &memTokens{}
	bus := eventbus.New()
	s := New(cfg, "Blackwater", bus, []string{seacockPath}, nil, tokens)
	s.accessPoll = 10 * time.Millisecond

	publish(bus, seacockPath, true)
	start(t, s)
	fs.nextValues(t)

	assert.Equal(t, "Bearer granted-token", <-fs.auth)
	tokens.mu.Lock()
	defer tokens.mu.Unlock()
	assert.Equal(t, "granted-token", tokens.creds.Token)
	assert.NotEmpty(t, tokens.creds.ClientID)
}

func TestStreamerUsesStoredToken(t *testing.T) {
	fs := newFakeServer(t)
	tokens := &memTokens{creds: credentials{ClientID: "abc", Token: "stored"}}
	bus := eventbus.New()
	s := New(fs.config(t), "Blackwater", bus, []string{seacockPath}, nil, tokens)

	publish(bus, seacockPath, true)
	start(t, s)
	fs.nextValues(t)
	assert.Equal(t, "Bearer stored", <-fs.auth)
	assert.Zero(t, tokens.puts)
}

func TestStreamerRequestsAccessAfterRejectedToken(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject = "revoked"
	fs.grantToken = "granted-token"
	cfg := fs.config(t)
	cfg.RequestAccess = true
	tokens := &memTokens{creds: credentials{ClientID: "abc", Token: "revoked"}}
	bus := eventbus.New()
	s := New(cfg, "Blackwater", bus, []string{seacockPath}, nil, tokens)
	s.accessPoll = 10 * time.Millisecond

	publish(bus, seacockPath, true)
	start(t, s)
	fs.nextValues(t)

	assert.Equal(t, "Bearer revoked", <-fs.auth)
	assert.Equal(t, "Bearer granted-token", <-fs.auth)
	tokens.mu.Lock()
	defer tokens.mu.Unlock()
	assert.Equal(t, credentials{ClientID: "abc", Token: "granted-token"}, tokens.creds)
}

func TestStreamerKeepsConfiguredTokenOnReject(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject = "fixed"
	cfg := fs.config(t)
	cfg.Token = "fixed"
	tokens := &memTokens{creds: credentials{ClientID: "abc", Token: "stored"}}
	s := New(cfg, "Blackwater", eventbus.New(), []string{seacockPath}, nil, tokens)
	start(t, s)

	assert.Equal(t, "Bearer fixed", <-fs.auth)
	// the retry still uses the configured token
	select {
	case auth := <-fs.auth:
		assert.Equal(t, "Bearer fixed", auth)
	case <-time.After(3 * time.Second):
		t.Fatal("no reconnect attempt")
	}
	tokens.mu.Lock()
	defer tokens.mu.Unlock()
	assert.Zero(t, tokens.puts)
}

func TestStreamerWithoutServer(t *testing.T) {
	s := New(config.SignalKConfig{}, "Blackwater", eventbus.New(), []string{seacockPath}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Zero(t, s.Sent())
}
