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

package control_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/govoltron/reactor"
	"github.com/govoltron/reactor/control"
)

type fakeServerStats struct {
	name string
	n    int
}

func (f fakeServerStats) Name() string                                   { return f.name }
func (f fakeServerStats) NumConnections() int                            { return f.n }
func (f fakeServerStats) Connections() map[string]*reactor.TcpConnection { return nil }

func TestPanelServersEndpoint(t *testing.T) {
	p := control.NewPanel(zap.NewNop())
	p.RegisterServer(fakeServerStats{name: "echo", n: 3})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/servers", nil)
	p.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var rows []struct {
		Name        string `json:"name"`
		Connections int    `json:"connections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "echo" || rows[0].Connections != 3 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestPanelConnsEndpointUnknownServer(t *testing.T) {
	p := control.NewPanel(zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/conns?server=nope", nil)
	p.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPanelLoopsEndpointReflectsRunningState(t *testing.T) {
	p := control.NewPanel(zap.NewNop())

	// The loop is constructed, run and closed on one goroutine, the one
	// NewEventLoop binds it to; it starts running only once start closes.
	loopc := make(chan *reactor.EventLoop, 1)
	errc := make(chan error, 1)
	start := make(chan struct{})
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
		<-start
		loop.Loop()
		_ = loop.Close()
	}()
	loop, ok := <-loopc
	if !ok {
		t.Fatalf("NewEventLoop: %v", <-errc)
	}
	p.RegisterLoop("main", loop)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/loops", nil)
	p.Router.ServeHTTP(rec, req)

	var rows []struct {
		Name    string `json:"name"`
		Running bool   `json:"running"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "main" || rows[0].Running {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	close(start)
	t.Cleanup(func() {
		loop.Quit()
		<-done
	})
	for !loop.IsRunning() {
		time.Sleep(time.Millisecond)
	}

	rec = httptest.NewRecorder()
	p.Router.ServeHTTP(rec, req)
	rows = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 1 || !rows[0].Running {
		t.Fatalf("expected loop to report running, got %+v", rows)
	}
}

// TestPanelConcurrentReadsDoNotRace hammers /debug/loops concurrently
// while other goroutines keep re-registering the same running loop, the
// race-detector property SPEC_FULL.md calls out explicitly (property 13).
func TestPanelConcurrentReadsDoNotRace(t *testing.T) {
	p := control.NewPanel(zap.NewNop())
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

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.RegisterLoop("loop", loop)
				rec := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodGet, "/debug/loops", nil)
				p.Router.ServeHTTP(rec, req)
			}
		}(i)
	}
	wg.Wait()
}
