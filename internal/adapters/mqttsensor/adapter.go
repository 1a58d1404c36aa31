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

// Package mqttsensor subscribes to sensor topics on an MQTT broker and
// republishes each message as a sensor reading on the bus.
package mqttsensor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"sysgrow/pkg/eventbus"
	"sysgrow/pkg/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // subscription filter
	QoS      byte
}

func (o Options) withDefaults() Options {
	if o.Topic == "" {
		o.Topic = "sysgrow/+/+/+"
	}
	if o.ClientID == "" {
		o.ClientID = "sysgrow"
	}
	return o
}

type Adapter struct {
	opts Options
	bus  *eventbus.Bus
	log  *logger.Logger
	now  func() time.Time

	received atomic.Int64
	rejected atomic.Int64
}

func New(bus *eventbus.Bus, opts Options) *Adapter {
	return &Adapter{
		opts: opts.withDefaults(),
		bus:  bus,
		log:  logger.New("MQTTSensor"),
		now:  time.Now,
	}
}

// Run connects, subscribes and blocks until ctx is done. Connection loss is
// handled by the client's auto-reconnect; the subscription is renewed on
// every (re)connect.
func (a *Adapter) Run(ctx context.Context) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(a.opts.Broker)
	opts.SetClientID(a.opts.ClientID)
	opts.SetUsername(a.opts.Username)
	opts.SetPassword(a.opts.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		a.log.Info("connected to %s", a.opts.Broker)
		if err := a.subscribe(c); err != nil {
			a.log.Error("%v", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		a.log.Warn("connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			a.log.Error("connect %s: %v", a.opts.Broker, err)
		}
	}()

	<-ctx.Done()
	client.Disconnect(250)
	a.log.Info("stopped (%d messages, %d rejected)", a.received.Load(), a.rejected.Load())
}

func (a *Adapter) subscribe(c mqtt.Client) error {
	token := c.Subscribe(a.opts.Topic, a.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		a.HandleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return fmt.Errorf("subscribe %q: %v", a.opts.Topic, token.Error())
	}
	a.log.Info("subscribed to %s", a.opts.Topic)
	return nil
}

// HandleMessage parses one broker message and publishes the reading.
func (a *Adapter) HandleMessage(topic string, payload []byte) {
	a.received.Add(1)
	key, reading, err := ParseMessage(topic, payload, a.now())
	if err != nil {
		a.rejected.Add(1)
		a.log.Warn("dropping message on %s: %v", topic, err)
		return
	}
	a.log.Debug("%s -> %s %v", topic, key.Topic, reading.Values)
	key.Publish(a.bus, reading)
}

// Counts returns the number of messages received and rejected.
func (a *Adapter) Counts() (received, rejected int64) {
	return a.received.Load(), a.rejected.Load()
}
