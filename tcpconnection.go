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

type connState int32

const (
	stateConnecting connState = iota
	stateConnected
	stateDisconnecting
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnecting:
		return "disconnecting"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// defaultHighWaterMark is the output-buffer backlog, in bytes, at which a
// connection's HighWaterMarkCallback fires.
const defaultHighWaterMark = 64 * 1024 * 1024

// TcpConnection represents one established (or half-closed) TCP socket.
// It is constructed by a TcpServer or TcpClient/Connector and lives for
// exactly one EventLoop's worth of its lifetime -- created, read, written
// and torn down entirely on that loop's goroutine. Sending data is the
// one operation safe to call from any goroutine.
type TcpConnection struct {
	loop *EventLoop
	log  *zap.Logger

	name    string
	fd      int
	channel *channel

	localAddr *net.TCPAddr
	peerAddr  *net.TCPAddr

	state     atomic.Int32
	destroyed atomic.Bool

	inputBuffer  *Buffer
	outputBuffer *Buffer

	highWaterMark int

	ctx Context

	ConnectionCallback     ConnectionCallback
	MessageCallback        MessageCallback
	WriteCompleteCallback  WriteCompleteCallback
	HighWaterMarkCallback  HighWaterMarkCallback
	CloseCallback          CloseCallback
}

// NewTcpConnection wraps an already-accepted or already-connected,
// non-blocking fd. The connection starts in StateConnecting; callers must
// invoke connectEstablished (via RunInLoop on loop) before events will be
// dispatched.
func NewTcpConnection(loop *EventLoop, name string, fd int, local, peer *net.TCPAddr, log *zap.Logger) *TcpConnection {
	c := &TcpConnection{
		loop:          loop,
		log:           log.With(zap.String("conn", name)),
		name:          name,
		fd:            fd,
		localAddr:     local,
		peerAddr:      peer,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: defaultHighWaterMark,
	}
	c.state.Store(int32(stateConnecting))

	c.channel = newChannel(loop, fd)
	c.channel.readCallback = c.handleRead
	c.channel.writeCallback = c.handleWrite
	c.channel.closeCallback = c.handleClose
	c.channel.errorCallback = c.handleError
	return c
}

func (c *TcpConnection) Name() string           { return c.name }
func (c *TcpConnection) Loop() *EventLoop       { return c.loop }
func (c *TcpConnection) LocalAddr() *net.TCPAddr { return c.localAddr }
func (c *TcpConnection) PeerAddr() *net.TCPAddr  { return c.peerAddr }
func (c *TcpConnection) Fd() int                { return c.fd }
func (c *TcpConnection) Context() *Context      { return &c.ctx }

func (c *TcpConnection) Connected() bool { return connState(c.state.Load()) == stateConnected }
func (c *TcpConnection) Disconnected() bool {
	return connState(c.state.Load()) == stateDisconnected
}

// SetHighWaterMark overrides the default 64MiB output-buffer threshold at
// which HighWaterMarkCallback fires.
func (c *TcpConnection) SetHighWaterMark(n int) { c.highWaterMark = n }

// SetTCPNoDelay must be called from the connection's own loop.
func (c *TcpConnection) SetTCPNoDelay(v bool) error { return setTCPNoDelay(c.fd, v) }

// SetKeepAlive must be called from the connection's own loop.
func (c *TcpConnection) SetKeepAlive(v bool) error { return setKeepAlive(c.fd, v) }

// Send queues data for write. Safe to call from any goroutine; data is
// copied before this returns, so the caller's slice may be reused
// immediately.
func (c *TcpConnection) Send(data []byte) error {
	if connState(c.state.Load()) != stateConnected {
		return ErrConnectionClosed
	}
	buf := append([]byte(nil), data...)
	if c.loop.IsInLoopThread() {
		c.sendInLoop(buf)
	} else {
		c.loop.QueueInLoop(func() { c.sendInLoop(buf) })
	}
	return nil
}

// SendBuffer sends buf's readable bytes, the counterpart to Send for
// callers that already hold a Buffer of their own -- typically one built
// by prepending a header into its head room, letting the caller avoid a
// defensive copy that Send's []byte signature would otherwise force. When
// called off the loop goroutine, buf still gets copied before queuing,
// since the caller cannot guarantee it stays untouched until the loop
// gets to it.
func (c *TcpConnection) SendBuffer(buf *Buffer) error {
	if connState(c.state.Load()) != stateConnected {
		return ErrConnectionClosed
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(buf.Peek())
		return nil
	}
	data := append([]byte(nil), buf.Peek()...)
	c.loop.QueueInLoop(func() { c.sendInLoop(data) })
	return nil
}

// SendString is Send for a string.
func (c *TcpConnection) SendString(s string) error { return c.Send([]byte(s)) }

func (c *TcpConnection) sendInLoop(data []byte) {
	c.loop.assertInLoopThread()
	if connState(c.state.Load()) == stateDisconnected {
		c.log.Debug("ignoring send on disconnected connection")
		return
	}

	nwrote := 0
	faultError := false

	if !c.channel.isWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			if err != unix.EAGAIN {
				if err == unix.EPIPE || err == unix.ECONNRESET {
					faultError = true
				} else {
					c.log.Error("write failed", zap.Error(err))
				}
			}
		} else {
			nwrote = n
			if nwrote == len(data) && c.WriteCompleteCallback != nil {
				cb := c.WriteCompleteCallback
				c.loop.QueueInLoop(func() { cb(c) })
			}
		}
	}

	if faultError {
		return
	}
	remaining := data[nwrote:]
	if len(remaining) == 0 {
		return
	}

	oldLen := c.outputBuffer.ReadableBytes()
	newLen := oldLen + len(remaining)
	if newLen >= c.highWaterMark && oldLen < c.highWaterMark && c.HighWaterMarkCallback != nil {
		cb := c.HighWaterMarkCallback
		c.loop.QueueInLoop(func() { cb(c, newLen) })
	}
	c.outputBuffer.Append(remaining)
	if !c.channel.isWriting() {
		c.channel.enableWriting()
	}
}

// Shutdown half-closes the connection for writing once any buffered
// output drains; reads continue until the peer closes its side too.
func (c *TcpConnection) Shutdown() {
	if c.state.CAS(int32(stateConnected), int32(stateDisconnecting)) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *TcpConnection) shutdownInLoop() {
	c.loop.assertInLoopThread()
	if !c.channel.isWriting() {
		_ = unix.Shutdown(c.fd, unix.SHUT_WR)
	}
}

// ForceClose tears the connection down immediately, discarding any
// buffered but unsent output.
func (c *TcpConnection) ForceClose() {
	s := connState(c.state.Load())
	if s == stateConnected || s == stateDisconnecting {
		c.state.Store(int32(stateDisconnecting))
		c.loop.QueueInLoop(c.forceCloseInLoop)
	}
}

func (c *TcpConnection) forceCloseInLoop() {
	c.loop.assertInLoopThread()
	if connState(c.state.Load()) != stateDisconnected {
		c.handleClose()
	}
}

// connectEstablished transitions a freshly-constructed connection into
// StateConnected and starts dispatching its events. Must run on loop.
func (c *TcpConnection) connectEstablished() {
	c.loop.assertInLoopThread()
	c.state.Store(int32(stateConnected))
	c.channel.tie(c.destroyed.Load)
	c.channel.enableReading()
	if c.ConnectionCallback != nil {
		c.ConnectionCallback(c)
	}
}

// connectDestroyed is the final teardown step, run after the owning
// TcpServer/TcpClient has already removed the connection from its map.
// Deliberately deferred via QueueInLoop by the caller so it never runs
// inside the Channel's own event dispatch.
func (c *TcpConnection) connectDestroyed() {
	c.loop.assertInLoopThread()
	if connState(c.state.Load()) == stateConnected {
		c.state.Store(int32(stateDisconnected))
		c.channel.disableAll()
		if c.ConnectionCallback != nil {
			c.ConnectionCallback(c)
		}
	}
	c.destroyed.Store(true)
	if c.channel.addedToLoop {
		c.channel.remove()
	}
	_ = unix.Close(c.fd)
}

func (c *TcpConnection) handleRead(when time.Time) {
	c.loop.assertInLoopThread()
	n, err := c.inputBuffer.ReadFd(c.fd)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		c.log.Warn("read failed", zap.Error(err))
		c.handleClose()
		return
	}
	if n == 0 {
		c.handleClose()
		return
	}
	if c.MessageCallback != nil {
		c.MessageCallback(c, c.inputBuffer, when)
	} else {
		defaultMessageCallback(c, c.inputBuffer, when)
	}
}

func (c *TcpConnection) handleWrite() {
	c.loop.assertInLoopThread()
	if !c.channel.isWriting() {
		return
	}
	n, err := unix.Write(c.fd, c.outputBuffer.Peek())
	if err != nil {
		if err != unix.EAGAIN {
			c.log.Warn("write failed", zap.Error(err))
		}
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.disableWriting()
		if c.WriteCompleteCallback != nil {
			cb := c.WriteCompleteCallback
			c.loop.QueueInLoop(func() { cb(c) })
		}
		if connState(c.state.Load()) == stateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	c.loop.assertInLoopThread()
	c.state.Store(int32(stateDisconnected))
	c.channel.disableAll()
	if c.ConnectionCallback != nil {
		c.ConnectionCallback(c)
	}
	if c.CloseCallback != nil {
		c.CloseCallback(c)
	}
}

func (c *TcpConnection) handleError() {
	c.log.Warn("connection error", zap.Error(socketError(c.fd)))
}
