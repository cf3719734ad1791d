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
	"boatmon/pkg/logger"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("signalk: not connected")
	ErrUnauthorized = errors.New("signalk: token rejected")
)

const writeTimeout = 5 * time.Second

// Client streams deltas to a Signal K server over a websocket.
type Client struct {
	url    string
	dialer *websocket.Dialer
	log    *logger.Logger

	mu    sync.Mutex
	token string
	conn  *websocket.Conn
	hello Hello
}

func NewClient(streamURL, token string) *Client {
	return &Client{
		url:    streamURL,
		token:  token,
		dialer: websocket.DefaultDialer,
		log:    logger.New("SignalK"),
	}
}

// Connect dials the stream without subscribing to server updates and
// waits for the server hello.
func (c *Client) Connect(ctx context.Context) (Hello, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.hello, nil
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return Hello{}, fmt.Errorf("signalk url %q: %w", c.url, err)
	}
	q := u.Query()
	q.Set("subscribe", "none")
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return Hello{}, fmt.Errorf("signalk connect %s: %w", u.Redacted(), ErrUnauthorized)
	}
	if err != nil {
		return Hello{}, fmt.Errorf("signalk connect %s: %w", u.Redacted(), err)
	}

	var hello Hello
	conn.SetReadDeadline(time.Now().Add(writeTimeout))
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return Hello{}, fmt.Errorf("signalk hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	c.conn = conn
	c.hello = hello
	c.log.Info("Connected to %s %s (self: %s)", hello.Name, hello.Version, hello.Self)
	return hello, nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one delta. A write failure drops the connection so the
// caller can reconnect.
func (c *Client) Send(d Delta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(d); err != nil {
		c.closeLocked()
		return fmt.Errorf("signalk send: %w", err)
	}
	return nil
}

// Listen drains server frames until the connection fails or is closed.
// Reading keeps control frames (ping/close) flowing.
func (c *Client) Listen() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.conn != conn
			if !closed {
				c.closeLocked()
			}
			c.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("signalk read: %w", err)
		}
		c.log.Debug("server message: %s", data)
	}
}

// Close stops the client
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
	c.log.Info("Closed")
}
