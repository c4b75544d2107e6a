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

// TcpServer accepts inbound connections on one address and fans them out
// across an EventLoopThreadPool. The Acceptor itself always lives on the
// server's own base loop; accepted connections are handed to pool loops
// round-robin.
type TcpServer struct {
	loop *EventLoop
	log  *zap.Logger
	opts *options

	name     string
	addr     net.Addr
	acceptor *Acceptor
	pool     *EventLoopThreadPool

	started    atomic.Bool
	nextConnID atomic.Int64
	loopInitCb func(*EventLoop)

	mu          sync.Mutex
	connections map[string]*TcpConnection

	ConnectionCallback     ConnectionCallback
	MessageCallback        MessageCallback
	WriteCompleteCallback  WriteCompleteCallback
}

// NewTcpServer opens a listening socket on addr. Connections are not
// accepted until Start.
func NewTcpServer(loop *EventLoop, name, addr string, opts ...Option) (*TcpServer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	acceptor, resolved, err := NewAcceptor(loop, addr, o.reusePort, o.logger)
	if err != nil {
		return nil, fmt.Errorf("reactor: new acceptor: %w", err)
	}

	s := &TcpServer{
		loop:        loop,
		log:         o.logger,
		opts:        o,
		name:        name,
		addr:        resolved,
		acceptor:    acceptor,
		pool:        NewEventLoopThreadPool(loop, o.logger, opts...),
		connections: make(map[string]*TcpConnection),
	}
	acceptor.NewConnectionCallback = s.newConnection
	return s, nil
}

func (s *TcpServer) Name() string    { return s.name }
func (s *TcpServer) Addr() net.Addr  { return s.addr }
func (s *TcpServer) Loop() *EventLoop { return s.loop }

// NumConnections returns the number of currently tracked connections.
func (s *TcpServer) NumConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// Connections returns a snapshot of the tracked connections, keyed by
// connection name. Intended for introspection (the control package); not
// meant for hot-path use.
func (s *TcpServer) Connections() map[string]*TcpConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*TcpConnection, len(s.connections))
	for k, v := range s.connections {
		out[k] = v
	}
	return out
}

// SetLoopInitCallback registers a function run once on every I/O loop the
// thread pool creates, before that loop starts dispatching. Must be
// called before Start; typical uses are attaching a reap.Reaper or
// registering the loop with a control.Panel.
func (s *TcpServer) SetLoopInitCallback(fn func(*EventLoop)) { s.loopInitCb = fn }

// Start spins up the I/O thread pool (if configured) and begins
// accepting connections. Calling Start more than once is a no-op.
func (s *TcpServer) Start() error {
	if !s.started.CAS(false, true) {
		return nil
	}
	if err := s.pool.Start(s.opts.numLoops, s.loopInitCb); err != nil {
		return err
	}
	s.loop.RunInLoop(func() {
		if err := s.acceptor.Listen(); err != nil {
			s.log.Error("listen failed", zap.Error(err))
		}
	})
	return nil
}

// Stop closes the listening socket and quits every pool loop. It does
// not forcibly close already-established connections; callers wanting
// that should ForceClose them first.
func (s *TcpServer) Stop() {
	s.loop.RunInLoop(func() {
		if err := s.acceptor.Close(); err != nil {
			s.log.Warn("acceptor close failed", zap.Error(err))
		}
	})
	s.pool.Stop()
}

func (s *TcpServer) newConnection(fd int, peer *net.TCPAddr) {
	ioLoop := s.pool.GetNextLoop()
	connID := s.nextConnID.Inc()
	name := fmt.Sprintf("%s-%s#%d", s.name, peer.String(), connID)
	local := localAddr(fd)

	conn := NewTcpConnection(ioLoop, name, fd, local, peer, s.log)
	conn.ConnectionCallback = s.ConnectionCallback
	conn.MessageCallback = s.MessageCallback
	conn.WriteCompleteCallback = s.WriteCompleteCallback
	conn.CloseCallback = s.removeConnection

	s.mu.Lock()
	s.connections[name] = conn
	s.mu.Unlock()

	ioLoop.RunInLoop(func() {
		_ = conn.SetTCPNoDelay(s.opts.noDelay)
		_ = conn.SetKeepAlive(s.opts.keepAlive)
		conn.connectEstablished()
	})
}

// removeConnection hops onto the server's base loop before touching the
// connection map, then defers the connection's final teardown back onto
// its own I/O loop -- the same two-hop dance TcpServer::removeConnection
// uses, so a connection is never destroyed while its own Channel is still
// dispatching the event that triggered the close.
func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *TcpConnection) {
	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()
	conn.Loop().QueueInLoop(conn.connectDestroyed)
}

// Broadcast sends data to every currently connected client, regardless of
// which pool loop owns it. Connections are grouped by loop under a single
// short-lived lock, then each loop is given its own copy of the payload
// to send from its own goroutine -- no connection is ever touched from a
// goroutine other than the one that owns it.
func (s *TcpServer) Broadcast(data []byte) {
	s.mu.Lock()
	byLoop := make(map[*EventLoop][]*TcpConnection, 1)
	for _, conn := range s.connections {
		byLoop[conn.Loop()] = append(byLoop[conn.Loop()], conn)
	}
	s.mu.Unlock()

	for loop, conns := range byLoop {
		payload := append([]byte(nil), data...)
		conns := conns
		loop.QueueInLoop(func() {
			for _, conn := range conns {
				if conn.Connected() {
					conn.sendInLoop(append([]byte(nil), payload...))
				}
			}
		})
	}
}
