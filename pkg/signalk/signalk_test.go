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

package signalk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	valid := []string{
		"propulsion.mainEngine.coolantTemperature",
		"propulsion.mainEngine.exhaustTemperature",
		"electrical.alternators.12V.temperature",
		"sensors.seacock_open.value",
		"sensors.digital_input2.value",
	}
	for _, p := range valid {
		assert.NoError(t, ValidatePath(p), p)
	}

	invalid := []string{
		"",
		"propulsion..coolantTemperature",
		"propulsion.mainEngine.",
		"propulsion.mainEngine.CoolantTemperature",
		"sensors.seacock open.value",
		"sensors.seacock.open_state",
	}
	for _, p := range invalid {
		assert.Error(t, ValidatePath(p), p)
	}
}

func TestNewDeltaSortsPaths(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := NewDelta("Blackwater", ts,
		map[string]any{"b.value": true, "a.value": 1.5},
		map[string]Meta{"b.value": {DisplayName: "Seacock Open"}})

	require.Len(t, d.Updates, 1)
	u := d.Updates[0]
	assert.Equal(t, "Blackwater", u.Source.Label)
	assert.Equal(t, []PathValue{{Path: "a.value", Value: 1.5}, {Path: "b.value", Value: true}}, u.Values)
	assert.Equal(t, "Seacock Open", u.Meta[0].Value.DisplayName)
	assert.False(t, d.Empty())
	assert.True(t, NewDelta("x", ts, nil, nil).Empty())

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"timestamp":"2025-06-01T12:00:00Z"`)
	assert.NotContains(t, string(raw), `"context"`)
}

func TestStreamURL(t *testing.T) {
	u, err := StreamURL("http://blackwater.local:3000")
	require.NoError(t, err)
	assert.Equal(t, "ws://blackwater.local:3000/signalk/v1/stream", u)

	u, err = StreamURL("https://sk.example:443/")
	require.NoError(t, err)
	assert.Equal(t, "wss://sk.example:443/signalk/v1/stream", u)
}

func TestDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/signalk", r.URL.Path)
		fmt.Fprint(w, `{"endpoints":{"v1":{"version":"1.7.0","signalk-ws":"ws://10.0.0.2:3000/signalk/v1/stream"}}}`)
	}))
	defer srv.Close()

	ws, err := Discover(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.2:3000/signalk/v1/stream", ws)
}

func accessServer(t *testing.T, permission string) *httptest.Server {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/signalk/v1/access/requests", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req accessRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Blackwater", req.ClientID)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"state":"PENDING","requestId":"42","href":"/signalk/v1/requests/42"}`)
	})
	mux.HandleFunc("/signalk/v1/requests/42", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			fmt.Fprint(w, `{"state":"PENDING"}`)
			return
		}
		fmt.Fprintf(w, `{"state":"COMPLETED","accessRequest":{"permission":%q,"token":"tok-123"}}`, permission)
	})
	return httptest.NewServer(mux)
}

func TestRequestAccessApproved(t *testing.T) {
	srv := accessServer(t, "APPROVED")
	defer srv.Close()

	token, err := RequestAccess(context.Background(), srv.Client(), srv.URL, "Blackwater", "boat monitor", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestRequestAccessDenied(t *testing.T) {
	srv := accessServer(t, "DENIED")
	defer srv.Close()

	_, err := RequestAccess(context.Background(), srv.Client(), srv.URL, "Blackwater", "boat monitor", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

type fakeServer struct {
	*httptest.Server
	deltas chan Delta
	query  chan string
	auth   chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{
		deltas: make(chan Delta, 8),
		query:  make(chan string, 1),
		auth:   make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.query <- r.URL.RawQuery
		fs.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(Hello{Name: "signalk-server", Version: "2.8.0", Self: "vessels.urn:mrn:signalk:uuid:1"})
		for {
			var d Delta
			if err := conn.ReadJSON(&d); err != nil {
				return
			}
			fs.deltas <- d
		}
	}))
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http") + "/signalk/v1/stream"
}

func TestClientConnectAndSend(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()

	c := NewClient(fs.wsURL(), "tok-123")
	assert.ErrorIs(t, c.Send(Delta{}), ErrNotConnected)

	hello, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "signalk-server", hello.Name)
	assert.True(t, c.Connected())
	assert.Equal(t, "subscribe=none", <-fs.query)
	assert.Equal(t, "Bearer tok-123", <-fs.auth)

	d := NewDelta("Blackwater", time.Now(), map[string]any{"propulsion.mainEngine.coolantTemperature": 348.15}, nil)
	require.NoError(t, c.Send(d))

	select {
	case got := <-fs.deltas:
		require.Len(t, got.Updates, 1)
		assert.Equal(t, "propulsion.mainEngine.coolantTemperature", got.Updates[0].Values[0].Path)
		assert.Equal(t, 348.15, got.Updates[0].Values[0].Value)
	case <-time.After(time.Second):
		t.Fatal("no delta received")
	}

	c.Close()
	assert.False(t, c.Connected())
}

func TestClientConnectRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		(&websocket.Upgrader{}).Upgrade(w, r, nil)
	}))
	defer srv.Close()

	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http")+"/signalk/v1/stream", "expired")
	_, err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, c.Connected())
}

func TestClientListenEndsOnClose(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()

	c := NewClient(fs.wsURL(), "")
	_, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", <-fs.auth)

	done := make(chan error, 1)
	go func() { done <- c.Listen() }()

	c.Close()
	select {
	case err := <-done:
		assert.True(t, err == nil || errors.Is(err, ErrNotConnected), "unexpected %v", err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not return")
	}
}
