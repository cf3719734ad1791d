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

package modbus

import (
	"boatmon/pkg/logger"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	wrapper "github.com/grid-x/modbus"
)

type Client struct {
	mu      sync.Mutex
	handler *wrapper.TCPClientHandler
	client  wrapper.Client
	config  *Config
	log     *logger.Logger
	ctx     context.Context

	// no reconnect attempts before this time
	holdoff time.Time
	backoff time.Duration
}

const maxBackoff = 30 * time.Second

// NewClient returns a client that connects lazily on the first read, so a
// device that is powered down does not hold up start-up.
func NewClient(ctx context.Context, config *Config) *Client {
	return &Client{
		config:  config,
		log:     logger.New("ModbusConn"),
		ctx:     ctx,
		backoff: time.Second,
	}
}

func (c *Client) Config() *Config { return c.config }

// connect (re)connects the Modbus client once. Failed attempts back off
// exponentially up to 30 seconds; reads in between fail fast.
func (c *Client) connect() error {
	if now := time.Now(); now.Before(c.holdoff) {
		return fmt.Errorf("modbus reconnect backing off until %s", c.holdoff.Format(time.TimeOnly))
	}

	if c.handler != nil {
		_ = c.handler.Close()
		c.handler = nil
		c.client = nil
	}

	url := fmt.Sprintf("%s:%d", c.config.Modbus.Host, c.config.Modbus.Port)
	handler := wrapper.NewTCPClientHandler(url)
	handler.SlaveID = c.config.Modbus.SlaveID
	handler.Timeout = time.Second * time.Duration(c.config.Modbus.Timeout)
	handler.ProtocolRecoveryTimeout = 250 * time.Millisecond
	handler.LinkRecoveryTimeout = 5 * time.Second

	c.log.Info("Connecting to %s...", url)
	if err := handler.Connect(c.ctx); err != nil {
		c.holdoff = time.Now().Add(c.backoff)
		c.log.Error("Modbus connect failed: %v (retrying in %v)", err, c.backoff)
		c.backoff = min(c.backoff*2, maxBackoff)
		return fmt.Errorf("modbus connect failed: %w", err)
	}

	c.handler = handler
	c.client = wrapper.NewClient(handler)
	c.backoff = time.Second
	c.log.Info("Connected to %s", url)
	return nil
}

// ReadRegisters reads holding or input registers, reconnecting once if the
// link dropped.
func (c *Client) ReadRegisters(kind string, addr, quantity uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	read := func() ([]byte, error) {
		if c.client == nil {
			if err := c.connect(); err != nil {
				return nil, err
			}
		}
		if kind == "input" {
			return c.client.ReadInputRegisters(c.ctx, addr, quantity)
		}
		return c.client.ReadHoldingRegisters(c.ctx, addr, quantity)
	}

	data, err := read()
	if err == nil || !isConnError(err) {
		return data, err
	}

	c.log.Error("connection error: %v, reconnecting", err)
	c.client = nil
	return read()
}

// Close closes the underlying handler.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler = nil
		c.client = nil
	}
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "closed by the remote host") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused")
}
