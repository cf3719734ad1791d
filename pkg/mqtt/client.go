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

package mqtt

import (
	"boatmon/pkg/logger"
	"fmt"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
)

type Options struct {
	Broker    string
	Port      int
	Username  string
	Password  string
	RootTopic string
	ClientID  string
}

// Client publishes under a root topic. It announces itself as Online on
// <root>/status and leaves Offline there as its will.
type Client struct {
	inner mqttlib.Client
	root  string
	log   *logger.Logger
}

// pahoLogger routes the library's own error output to our log.
type pahoLogger struct{ log *logger.Logger }

func (p pahoLogger) Println(v ...any)               { p.log.Error("%s", fmt.Sprint(v...)) }
func (p pahoLogger) Printf(format string, v ...any) { p.log.Error(format, v...) }

func NewClient(o Options) *Client {
	c := &Client{
		root: o.RootTopic,
		log:  logger.New("MQTT"),
	}
	mqttlib.ERROR = pahoLogger{c.log}

	opts := mqttlib.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port))
	opts.SetClientID(o.ClientID)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.AutoReconnect = true
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(time.Second)
	opts.SetOrderMatters(false)
	opts.SetWill(c.topic("status"), "Offline", 0, true)
	opts.OnConnect = func(client mqttlib.Client) {
		c.log.Info("Connected to %s:%d", o.Broker, o.Port)
		client.Publish(c.topic("status"), 0, true, "Online")
	}
	opts.OnConnectionLost = func(client mqttlib.Client, err error) {
		c.log.Warn("Connection lost: %v", err)
	}

	c.inner = mqttlib.NewClient(opts)
	return c
}

func (c *Client) topic(sub string) string {
	return fmt.Sprintf("%v/%v", c.root, sub)
}

// Connect starts connecting and waits up to timeout for the first
// connection. The client keeps retrying in the background after that.
func (c *Client) Connect(timeout time.Duration) error {
	token := c.inner.Connect()
	if !token.WaitTimeout(timeout) {
		c.log.Warn("broker not reachable yet, retrying in the background")
		return nil
	}
	return token.Error()
}

// Publish sends payload to <root>/<subTopic> at QoS 0 without waiting.
func (c *Client) Publish(subTopic string, payload []byte) {
	c.inner.Publish(c.topic(subTopic), 0, false, payload)
}

func (c *Client) Disconnect() {
	c.log.Info("Disconnecting")
	if c.inner.IsConnected() {
		c.inner.Publish(c.topic("status"), 0, true, "Offline").WaitTimeout(time.Second)
	}
	c.inner.Disconnect(250)
}
