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

package reactor_test

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/govoltron/reactor"
)

func newRunningLoop(t *testing.T) *reactor.EventLoop {
	t.Helper()
	// The loop is constructed, run and closed on one goroutine, the one
	// NewEventLoop binds it to.
	loopc := make(chan *reactor.EventLoop, 1)
	errc := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop, err := reactor.NewEventLoop(reactor.WithLogger(zap.NewNop()))
		if err != nil {
			errc <- err
			close(loopc)
			return
		}
		loopc <- loop
		loop.Loop()
		_ = loop.Close()
	}()
	loop, ok := <-loopc
	if !ok {
		t.Fatalf("NewEventLoop: %v", <-errc)
	}
	t.Cleanup(func() {
		loop.Quit()
		<-done
	})
	for !loop.IsRunning() {
		time.Sleep(time.Millisecond)
	}
	return loop
}

// TestEchoServerRoundTrip exercises Acceptor -> TcpServer -> TcpConnection
// -> Poller end to end over a real loopback socket.
func TestEchoServerRoundTrip(t *testing.T) {
	loop := newRunningLoop(t)

	srv, err := reactor.NewTcpServer(loop, "echo-test", "127.0.0.1:0", reactor.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewTcpServer: %v", err)
	}
	srv.MessageCallback = func(conn *reactor.TcpConnection, buf *reactor.Buffer, _ time.Time) {
		_ = conn.SendString(buf.RetrieveAllAsString())
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	client := reactor.NewTcpClient(loop, "echo-client", srv.Addr().String(), reactor.WithLogger(zap.NewNop()))
	received := make(chan string, 1)
	client.MessageCallback = func(conn *reactor.TcpConnection, buf *reactor.Buffer, _ time.Time) {
		received <- buf.RetrieveAllAsString()
	}
	connected := make(chan struct{})
	client.ConnectionCallback = func(conn *reactor.TcpConnection) {
		if conn.Connected() {
			close(connected)
		}
	}
	client.Connect()
	t.Cleanup(client.Stop)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	conn := client.Connection()
	if conn == nil {
		t.Fatal("client has no connection after connecting")
	}
	if err := conn.SendString("ping"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got != "ping" {
			t.Fatalf("echoed %q, want %q", got, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("echo never arrived")
	}
}

// TestBroadcastDeliversExactlyOnce spreads several clients across multiple
// I/O loops and checks every connection receives a broadcast payload
// exactly once (SPEC property: broadcast fan-out exactly-once).
func TestBroadcastDeliversExactlyOnce(t *testing.T) {
	loop := newRunningLoop(t)

	const numClients = 6
	srv, err := reactor.NewTcpServer(loop, "broadcast-test", "127.0.0.1:0",
		reactor.WithLogger(zap.NewNop()),
		reactor.WithNumEventLoopThreads(3),
	)
	if err != nil {
		t.Fatalf("NewTcpServer: %v", err)
	}

	var serverSideConns sync.WaitGroup
	serverSideConns.Add(numClients)
	srv.ConnectionCallback = func(conn *reactor.TcpConnection) {
		if conn.Connected() {
			serverSideConns.Done()
		}
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	type client struct {
		c        *reactor.TcpClient
		received chan string
	}
	clients := make([]*client, numClients)
	var connectWG sync.WaitGroup
	connectWG.Add(numClients)

	for i := 0; i < numClients; i++ {
		cl := reactor.NewTcpClient(loop, "bc-client", srv.Addr().String(), reactor.WithLogger(zap.NewNop()))
		received := make(chan string, 4)
		cl.MessageCallback = func(conn *reactor.TcpConnection, buf *reactor.Buffer, _ time.Time) {
			received <- buf.RetrieveAllAsString()
		}
		var once sync.Once
		cl.ConnectionCallback = func(conn *reactor.TcpConnection) {
			if conn.Connected() {
				once.Do(connectWG.Done)
			}
		}
		clients[i] = &client{c: cl, received: received}
		cl.Connect()
		t.Cleanup(cl.Stop)
	}

	waitTimeout(t, &connectWG, 2*time.Second, "clients never all connected")
	waitTimeout(t, &serverSideConns, 2*time.Second, "server never saw all connections")

	srv.Broadcast([]byte("hello-everyone"))

	for i, cl := range clients {
		select {
		case got := <-cl.received:
			if got != "hello-everyone" {
				t.Fatalf("client %d got %q, want %q", i, got, "hello-everyone")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d never received broadcast", i)
		}
		select {
		case extra := <-cl.received:
			t.Fatalf("client %d received broadcast a second time: %q", i, extra)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration, msg string) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal(msg)
	}
}
