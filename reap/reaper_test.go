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

package reap_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/govoltron/reactor"
	"github.com/govoltron/reactor/reap"
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

// TestReaperLivenessKeepsActiveConnectionAlive checks property 11: a
// connection touched at least once per idle window survives well past
// its nominal timeout, while a silent connection is shut down.
func TestReaperLivenessKeepsActiveConnectionAlive(t *testing.T) {
	loop := newRunningLoop(t)

	const tick = 30 * time.Millisecond
	const buckets = 2 // idle timeout ~= 60ms

	var r *reap.Reaper
	loop.RunInLoop(func() { r = reap.New(loop, tick, buckets) })
	for r == nil {
		time.Sleep(time.Millisecond)
	}

	srv, err := reactor.NewTcpServer(loop, "reap-test", "127.0.0.1:0", reactor.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewTcpServer: %v", err)
	}

	disconnected := make(chan string, 4)
	srv.ConnectionCallback = func(conn *reactor.TcpConnection) {
		if conn.Connected() {
			r.OnConnect(conn)
		} else {
			disconnected <- conn.Name()
		}
	}
	srv.MessageCallback = func(conn *reactor.TcpConnection, buf *reactor.Buffer, _ time.Time) {
		buf.RetrieveAll()
		r.OnMessage(conn)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	active := reactor.NewTcpClient(loop, "active", srv.Addr().String(), reactor.WithLogger(zap.NewNop()))
	active.Connect()
	t.Cleanup(active.Stop)

	silent := reactor.NewTcpClient(loop, "silent", srv.Addr().String(), reactor.WithLogger(zap.NewNop()))
	silent.Connect()
	t.Cleanup(silent.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for (active.Connection() == nil || silent.Connection() == nil) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if active.Connection() == nil || silent.Connection() == nil {
		t.Fatal("clients never connected")
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(tick / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if c := active.Connection(); c != nil {
					_ = c.SendString("x")
				}
			}
		}
	}()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was never reaped")
	}
	close(stop)

	select {
	case <-disconnected:
		t.Fatal("the actively-touched connection was reaped too")
	case <-time.After(300 * time.Millisecond):
	}
}
