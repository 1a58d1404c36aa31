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
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"sysgrow/pkg/logger"

	wrapper "github.com/grid-x/modbus"
)

// registerClient is the subset of the grid-x client this package uses.
type registerClient interface {
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(ctx context.Context, address, quantity uint16, value []byte) ([]byte, error)
}

type Client struct {
	mu      sync.Mutex
	handler *wrapper.TCPClientHandler
	client  registerClient
	config  *Config
	log     *logger.Logger

	// reconnect is nil for clients built around an existing connection
	reconnect func(ctx context.Context) error
}

// Dial connects to the device, retrying with backoff until ctx is done.
func Dial(ctx context.Context, config *Config) (*Client, error) {
	c := &Client{
		config: config,
		log:    logger.New("ModbusConn"),
	}
	c.reconnect = c.connectWithRetry
	if err := c.connectWithRetry(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func newClientWith(config *Config, rc registerClient) *Client {
	return &Client{config: config, client: rc, log: logger.New("ModbusConn")}
}

func (c *Client) Config() *Config { return c.config }

func (c *Client) HasRegister(name string) bool {
	_, ok := c.config.Registers[name]
	return ok
}

func (c *Client) connectWithRetry(ctx context.Context) error {
	backoff := time.Second
	for {
		err := c.connect(ctx)
		if err == nil {
			return nil
		}
		c.log.Error("connect failed: %v (retrying in %v)", err, backoff)

		select {
		case <-ctx.Done():
			return fmt.Errorf("modbus connect: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler != nil {
		_ = c.handler.Close()
	}

	addr := fmt.Sprintf("%s:%d", c.config.Modbus.Host, c.config.Modbus.Port)
	handler := wrapper.NewTCPClientHandler(addr)
	handler.SlaveID = c.config.Modbus.SlaveID
	handler.Timeout = time.Duration(c.config.Modbus.Timeout) * time.Second
	handler.ProtocolRecoveryTimeout = 250 * time.Millisecond
	handler.LinkRecoveryTimeout = 5 * time.Second

	c.log.Info("connecting to %s...", addr)
	if err := handler.Connect(ctx); err != nil {
		return err
	}
	c.handler = handler
	c.client = wrapper.NewClient(handler)
	c.log.Info("connected to %s", addr)
	return nil
}

// retry runs op at most twice, reconnecting in between on connection
// errors.
func (c *Client) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := range 2 {
		if err = op(); err == nil {
			return nil
		}
		if attempt == 1 || !isConnError(err) || c.reconnect == nil {
			continue
		}
		c.log.Warn("connection error: %v, reconnecting", err)
		if rerr := c.reconnect(ctx); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	return err
}

func (c *Client) readRegisters(ctx context.Context, addr, quantity uint16) ([]byte, error) {
	var data []byte
	err := c.retry(ctx, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		var rerr error
		data, rerr = c.client.ReadHoldingRegisters(ctx, addr, quantity)
		return rerr
	})
	return data, err
}

func (c *Client) writeRegisters(ctx context.Context, addr, quantity uint16, raw []byte) error {
	return c.retry(ctx, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, werr := c.client.WriteMultipleRegisters(ctx, addr, quantity, raw)
		return werr
	})
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler = nil
	}
}

func isConnError(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset",
		"broken pipe",
		"closed by the remote host",
		"i/o timeout",
		"use of closed network connection",
		"connection refused",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
