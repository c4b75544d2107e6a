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

// Package control exposes a small read-only HTTP introspection panel
// over a running reactor process: which servers and loops exist, and
// which connections each server currently holds. It never reaches into
// an EventLoop, Channel or TimerQueue directly -- only the snapshots
// TcpServer (NumConnections, Connections) and EventLoop (IsRunning, Stats,
// PendingTimers) already expose safely from any goroutine.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"github.com/govoltron/reactor"
)

// ServerStats is the minimal view of a TcpServer the panel needs;
// *reactor.TcpServer satisfies it directly.
type ServerStats interface {
	Name() string
	NumConnections() int
	Connections() map[string]*reactor.TcpConnection
}

// Panel is a standalone net/http server, independent of the reactor
// engine it reports on -- the control plane is plain request/response
// and gains nothing from non-blocking I/O, so it uses net/http directly
// rather than reactor.TcpServer.
type Panel struct {
	log *zap.Logger

	mu      sync.RWMutex
	servers map[string]ServerStats
	loops   map[string]*reactor.EventLoop

	Router chi.Router

	srv *http.Server
	wg  sync.WaitGroup
	err error
}

// NewPanel builds a Panel with its routes already wired.
func NewPanel(log *zap.Logger) *Panel {
	p := &Panel{
		log:     log,
		servers: make(map[string]ServerStats),
		loops:   make(map[string]*reactor.EventLoop),
	}
	r := chi.NewRouter()
	r.Get("/debug/servers", p.handleServers)
	r.Get("/debug/conns", p.handleConns)
	r.Get("/debug/loops", p.handleLoops)
	r.Get("/debug/timers", p.handleTimers)
	p.Router = r
	return p
}

// RegisterServer makes s visible under /debug/servers and /debug/conns.
func (p *Panel) RegisterServer(s ServerStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers[s.Name()] = s
}

// RegisterLoop makes loop visible under /debug/loops as name.
func (p *Panel) RegisterLoop(name string, loop *reactor.EventLoop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loops[name] = loop
}

type serverRow struct {
	Name        string `json:"name"`
	Connections int    `json:"connections"`
}

func (p *Panel) handleServers(w http.ResponseWriter, _ *http.Request) {
	p.mu.RLock()
	rows := make([]serverRow, 0, len(p.servers))
	for _, s := range p.servers {
		rows = append(rows, serverRow{Name: s.Name(), Connections: s.NumConnections()})
	}
	p.mu.RUnlock()
	writeJSON(w, rows)
}

type connRow struct {
	Name      string `json:"name"`
	Peer      string `json:"peer"`
	Local     string `json:"local"`
	Connected bool   `json:"connected"`
}

func (p *Panel) handleConns(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("server")
	p.mu.RLock()
	s, ok := p.servers[name]
	p.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	conns := s.Connections()
	rows := make([]connRow, 0, len(conns))
	for _, c := range conns {
		rows = append(rows, connRow{
			Name:      c.Name(),
			Peer:      c.PeerAddr().String(),
			Local:     c.LocalAddr().String(),
			Connected: c.Connected(),
		})
	}
	writeJSON(w, rows)
}

type loopRow struct {
	Name            string        `json:"name"`
	Running         bool          `json:"running"`
	Iteration       int64         `json:"iteration"`
	ActiveChannels  int64         `json:"active_channels"`
	PendingFunctors int           `json:"pending_functors"`
	LastPollLatency time.Duration `json:"last_poll_latency_ns"`
}

func (p *Panel) handleLoops(w http.ResponseWriter, _ *http.Request) {
	p.mu.RLock()
	rows := make([]loopRow, 0, len(p.loops))
	for name, l := range p.loops {
		stats := l.Stats()
		rows = append(rows, loopRow{
			Name:            name,
			Running:         l.IsRunning(),
			Iteration:       stats.Iteration,
			ActiveChannels:  stats.ActiveChannels,
			PendingFunctors: stats.PendingFunctors,
			LastPollLatency: stats.LastPollLatency,
		})
	}
	p.mu.RUnlock()
	writeJSON(w, rows)
}

type timerRow struct {
	Name    string `json:"name"`
	Pending int64  `json:"pending"`
}

func (p *Panel) handleTimers(w http.ResponseWriter, _ *http.Request) {
	p.mu.RLock()
	rows := make([]timerRow, 0, len(p.loops))
	for name, l := range p.loops {
		rows = append(rows, timerRow{Name: name, Pending: l.PendingTimers()})
	}
	p.mu.RUnlock()
	writeJSON(w, rows)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Start blocks serving addr until Shutdown is called or the listener
// fails.
func (p *Panel) Start(addr string) error {
	p.srv = &http.Server{Addr: addr, Handler: p.Router}
	err := p.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// AsyncStart runs Start on a background goroutine; check the error Wait
// returns after Shutdown.
func (p *Panel) AsyncStart(addr string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Start(addr); err != nil {
			p.log.Error("control panel stopped", zap.Error(err))
			p.err = err
		}
	}()
}

// Wait blocks until the goroutine started by AsyncStart returns.
func (p *Panel) Wait() error {
	p.wg.Wait()
	return p.err
}

// Shutdown gracefully stops the panel's HTTP server.
func (p *Panel) Shutdown(ctx context.Context) error {
	if p.srv == nil {
		return nil
	}
	return p.srv.Shutdown(ctx)
}
