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
	"net"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type connectorState int32

const (
	connectorDisconnected connectorState = iota
	connectorConnecting
	connectorConnected
)

// maxRetryDelay caps Connector's exponential retry backoff, mirroring
// muduo's Connector::kMaxRetryDelayMs.
const maxRetryDelay = 30 * time.Second

const initRetryDelay = 500 * time.Millisecond

// Connector drives a single outbound, non-blocking connect(2) for
// TcpClient, including retrying with exponential backoff if the peer is
// unreachable or the connection drops.
type Connector struct {
	loop *EventLoop
	log  *zap.Logger
	addr string

	state   atomic.Int32
	connect atomic.Bool // whether the user wants us connected
	retry   bool

	fd         int
	channel    *channel
	retryDelay time.Duration
	timerID    TimerId
	hasTimer   bool

	NewConnectionCallback func(fd int, local, peer *net.TCPAddr)
}

// NewConnector prepares (without starting) a connector targeting addr.
func NewConnector(loop *EventLoop, addr string, log *zap.Logger) *Connector {
	c := &Connector{
		loop:       loop,
		log:        log,
		addr:       addr,
		retryDelay: initRetryDelay,
	}
	c.connect.Store(true)
	return c
}

// EnableRetry makes the connector keep retrying (with backoff) after a
// failed or dropped connection instead of giving up.
func (c *Connector) EnableRetry() { c.retry = true }

// Start kicks off the first connect attempt. Must run on loop.
func (c *Connector) Start() {
	c.loop.assertInLoopThread()
	if c.connect.Load() {
		c.connectInLoop()
	}
}

// Stop cancels any in-flight connect attempt or pending retry and
// prevents further retries.
func (c *Connector) Stop() {
	c.connect.Store(false)
	c.loop.QueueInLoop(func() {
		c.loop.assertInLoopThread()
		if c.state.Load() == int32(connectorConnecting) {
			c.state.Store(int32(connectorDisconnected))
			c.removeAndResetChannel()
			unix.Close(c.fd)
		}
		if c.hasTimer {
			c.loop.CancelTimer(c.timerID)
			c.hasTimer = false
		}
	})
}

func (c *Connector) connectInLoop() {
	fd, _, inProgress, err := connectSocket(c.addr)
	if err != nil {
		c.log.Warn("connect failed", zap.String("addr", c.addr), zap.Error(err))
		c.retryInLoop()
		return
	}
	c.fd = fd
	if inProgress {
		c.state.Store(int32(connectorConnecting))
		c.channel = newChannel(c.loop, fd)
		c.channel.writeCallback = c.handleWrite
		c.channel.errorCallback = c.handleError
		c.channel.enableWriting()
		return
	}
	c.handleConnected()
}

func (c *Connector) handleWrite() {
	c.loop.assertInLoopThread()
	if c.state.Load() != int32(connectorConnecting) {
		return
	}
	c.removeAndResetChannel()
	if err := socketError(c.fd); err != nil {
		c.log.Warn("connect failed", zap.String("addr", c.addr), zap.Error(err))
		unix.Close(c.fd)
		c.retryInLoop()
		return
	}
	c.handleConnected()
}

func (c *Connector) handleError() {
	c.loop.assertInLoopThread()
	if c.state.Load() != int32(connectorConnecting) {
		return
	}
	err := socketError(c.fd)
	c.log.Warn("connect error", zap.String("addr", c.addr), zap.Error(err))
	c.removeAndResetChannel()
	unix.Close(c.fd)
	c.retryInLoop()
}

func (c *Connector) handleConnected() {
	c.state.Store(int32(connectorConnected))
	c.retryDelay = initRetryDelay
	if c.NewConnectionCallback != nil {
		c.NewConnectionCallback(c.fd, localAddr(c.fd), peerAddr(c.fd))
	}
}

func (c *Connector) removeAndResetChannel() {
	if c.channel != nil && c.channel.addedToLoop {
		c.channel.remove()
	}
	c.channel = nil
}

// Restart resets the connector and begins connecting again; used by
// TcpClient when a retry-enabled connection drops after having once
// succeeded (as opposed to retryInLoop, which handles a connect attempt
// that never got off the ground).
func (c *Connector) Restart() {
	c.loop.assertInLoopThread()
	c.state.Store(int32(connectorDisconnected))
	c.retryDelay = initRetryDelay
	c.connect.Store(true)
	c.connectInLoop()
}

func (c *Connector) retryInLoop() {
	c.state.Store(int32(connectorDisconnected))
	if !c.retry || !c.connect.Load() {
		return
	}
	c.log.Info("retrying connect", zap.String("addr", c.addr), zap.Duration("delay", c.retryDelay))
	c.timerID = c.loop.RunAfter(c.retryDelay, c.connectInLoop)
	c.hasTimer = true
	c.retryDelay *= 2
	if c.retryDelay > maxRetryDelay {
		c.retryDelay = maxRetryDelay
	}
}
