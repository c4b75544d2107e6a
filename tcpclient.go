// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reactor

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// TcpClient manages a single outbound connection, reconnecting through
// its Connector when EnableRetry has been called and the connection
// drops after having once succeeded.
type TcpClient struct {
	loop      *EventLoop
	log       *zap.Logger
	opts      *options
	name      string
	connector *Connector

	retry   atomic.Bool
	connect atomic.Bool

	nextConnID atomic.Int64

	mu   sync.Mutex
	conn *TcpConnection

	ConnectionCallback    ConnectionCallback
	MessageCallback       MessageCallback
	WriteCompleteCallback WriteCompleteCallback
}

// NewTcpClient prepares (without connecting) a client targeting addr.
func NewTcpClient(loop *EventLoop, name, addr string, opts ...Option) *TcpClient {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := &TcpClient{
		loop: loop,
		log:  o.logger,
		opts: o,
		name: name,
	}
	c.connector = NewConnector(loop, addr, o.logger)
	c.connector.NewConnectionCallback = c.newConnection
	return c
}

// EnableRetry makes the client reconnect automatically: a failed attempt
// is retried with backoff, and a connection that later drops is
// reconnected immediately with the backoff delay reset.
func (c *TcpClient) EnableRetry() {
	c.retry.Store(true)
	c.connector.EnableRetry()
}

// Connect begins the (possibly first) connection attempt.
func (c *TcpClient) Connect() {
	c.connect.Store(true)
	c.loop.RunInLoop(c.connector.Start)
}

// Disconnect gracefully shuts down the current connection, if any,
// without preventing a future Connect.
func (c *TcpClient) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Shutdown()
	}
}

// Stop cancels any in-flight connect attempt and retry timer and
// disables future reconnection.
func (c *TcpClient) Stop() {
	c.connect.Store(false)
	c.connector.Stop()
}

// Connection returns the current TcpConnection, or nil if not connected.
func (c *TcpClient) Connection() *TcpConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *TcpClient) newConnection(fd int, local, peer *net.TCPAddr) {
	id := c.nextConnID.Inc()
	name := fmt.Sprintf("%s#%d", c.name, id)

	conn := NewTcpConnection(c.loop, name, fd, local, peer, c.log)
	conn.ConnectionCallback = c.ConnectionCallback
	conn.MessageCallback = c.MessageCallback
	conn.WriteCompleteCallback = c.WriteCompleteCallback
	conn.CloseCallback = c.removeConnection
	_ = conn.SetTCPNoDelay(c.opts.noDelay)
	_ = conn.SetKeepAlive(c.opts.keepAlive)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	conn.connectEstablished()
}

func (c *TcpClient) removeConnection(conn *TcpConnection) {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()

	conn.Loop().QueueInLoop(conn.connectDestroyed)

	if c.retry.Load() && c.connect.Load() {
		c.connector.Restart()
	}
}
