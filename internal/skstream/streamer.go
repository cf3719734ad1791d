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

// Package skstream forwards output values from the event bus to the Signal K
// server as batched deltas.
package skstream

import (
	"boatmon/internal/config"
	"boatmon/internal/events"
	"boatmon/pkg/eventbus"
	"boatmon/pkg/logger"
	"boatmon/pkg/signalk"
	"context"
	"crypto/rand"
	"errors"
	"maps"
	"net/http"
	"sync/atomic"
	"time"
)

// TokenPath is where a granted access token is kept in the config store.
const TokenPath = "/system/signalk"

// TokenStore persists the access credentials between starts.
type TokenStore interface {
	Decode(path string, v any) (bool, error)
	Put(path string, v any) error
}

type credentials struct {
	ClientID string `json:"client_id"`
	Token    string `json:"token"`
}

type Streamer struct {
	conf   config.SignalKConfig
	label  string
	bus    *eventbus.Bus
	paths  []string
	meta   map[string]signalk.Meta
	tokens TokenStore
	hc     *http.Client
	log    *logger.Logger

	client atomic.Pointer[signalk.Client]
	sent   atomic.Int64

	accessPoll time.Duration
}

// New builds a streamer for the given output paths. label names this node
// as the source of every update. tokens may be nil when access requests
// are not used.
func New(conf config.SignalKConfig, label string, bus *eventbus.Bus, paths []string, meta map[string]signalk.Meta, tokens TokenStore) *Streamer {
	return &Streamer{
		conf:       conf,
		label:      label,
		bus:        bus,
		paths:      paths,
		meta:       maps.Clone(meta),
		tokens:     tokens,
		hc:         &http.Client{Timeout: 5 * time.Second},
		log:        logger.New("SKStream"),
		accessPoll: 5 * time.Second,
	}
}

// Sent counts the deltas delivered so far.
func (s *Streamer) Sent() int64 { return s.sent.Load() }

func (s *Streamer) Run(ctx context.Context) {
	base := s.conf.BaseURL()
	if base == "" {
		s.log.Warn("no Signal K server configured, values stay local")
		<-ctx.Done()
		return
	}
	s.log.Info("Running... streaming %d paths to %s as %q", len(s.paths), base, s.label)
	defer s.log.Info("Stopped")

	values := s.bus.SubscribeAll(ctx, events.PathTopics(s.paths), true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.maintain(ctx, base)
	}()

	ticker := time.NewTicker(time.Duration(s.conf.FlushIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	pending := make(map[string]events.PathValue)
	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case ev, ok := <-values:
			if !ok {
				<-done
				return
			}
			if pv, ok := ev.(events.PathValue); ok {
				pending[pv.Path] = pv
			}
		case <-ticker.C:
			if len(pending) > 0 && s.flush(pending) {
				clear(pending)
			}
		}
	}
}

// flush sends the latest value of every pending path as one delta. It
// reports false when nothing could be sent, so the values wait for the
// next connection.
func (s *Streamer) flush(pending map[string]events.PathValue) bool {
	client := s.client.Load()
	if client == nil || !client.Connected() {
		return false
	}

	values := make(map[string]any, len(pending))
	var ts time.Time
	for path, pv := range pending {
		values[path] = pv.Value
		if pv.Time.After(ts) {
			ts = pv.Time
		}
	}
	if err := client.Send(signalk.NewDelta(s.label, ts, values, nil)); err != nil {
		s.log.Error("%v", err)
		return false
	}
	s.sent.Add(1)
	return true
}

// maintain keeps one session open at a time, waiting reconnect_seconds
// between attempts.
func (s *Streamer) maintain(ctx context.Context, base string) {
	wait := time.Duration(s.conf.ReconnectSeconds) * time.Second
	for {
		if err := s.session(ctx, base); err != nil && ctx.Err() == nil {
			s.log.Error("%v, retrying in %v", err, wait)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Streamer) session(ctx context.Context, base string) error {
	token, err := s.token(ctx, base)
	if err != nil {
		return err
	}

	url, err := signalk.Discover(ctx, s.hc, base)
	if err != nil {
		s.log.Warn("%v, using the default stream path", err)
		if url, err = signalk.StreamURL(base); err != nil {
			return err
		}
	}

	client := signalk.NewClient(url, token)
	if _, err := client.Connect(ctx); err != nil {
		if errors.Is(err, signalk.ErrUnauthorized) {
			s.forgetToken(token)
		}
		return err
	}
	stop := context.AfterFunc(ctx, client.Close)
	defer stop()
	defer client.Close()

	if meta := signalk.NewDelta(s.label, time.Now(), nil, s.meta); !meta.Empty() {
		if err := client.Send(meta); err != nil {
			return err
		}
	}
	s.client.Store(client)
	defer s.client.CompareAndSwap(client, nil)

	return client.Listen()
}

// token returns the configured token, a stored one, or asks the server for
// one when access requests are enabled.
func (s *Streamer) token(ctx context.Context, base string) (string, error) {
	if s.conf.Token != "" {
		return s.conf.Token, nil
	}
	if s.tokens == nil {
		return "", nil
	}

	var creds credentials
	if _, err := s.tokens.Decode(TokenPath, &creds); err != nil {
		s.log.Error("stored credentials: %v", err)
	}
	if creds.Token != "" || !s.conf.RequestAccess {
		return creds.Token, nil
	}

	if creds.ClientID == "" {
		creds.ClientID = rand.Text()
		if err := s.tokens.Put(TokenPath, creds); err != nil {
			s.log.Error("%v", err)
		}
	}
	s.log.Info("requesting access as %s, approve it on the server", creds.ClientID)
	token, err := signalk.RequestAccess(ctx, s.hc, base, creds.ClientID, s.label+" sensors", s.accessPoll)
	if errors.Is(err, signalk.ErrAccessDenied) {
		s.log.Error("access request denied by the server")
	}
	if err != nil {
		return "", err
	}

	creds.Token = token
	if err := s.tokens.Put(TokenPath, creds); err != nil {
		s.log.Error("%v", err)
	}
	s.log.Info("access granted")
	return token, nil
}

// forgetToken drops a stored token the server no longer accepts, so the
// next session files a new access request. A configured token is kept.
func (s *Streamer) forgetToken(token string) {
	if s.conf.Token != "" {
		s.log.Error("the configured token was rejected by the server")
		return
	}
	if s.tokens == nil || token == "" {
		return
	}
	var creds credentials
	if _, err := s.tokens.Decode(TokenPath, &creds); err != nil || creds.Token != token {
		return
	}
	creds.Token = ""
	if err := s.tokens.Put(TokenPath, creds); err != nil {
		s.log.Error("%v", err)
	}
	s.log.Warn("stored token rejected, access will be requested again")
}
