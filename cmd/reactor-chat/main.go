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

// Command reactor-chat runs a length-field-framed broadcast chat server
// across a pool of I/O loops, reaps connections idle for about
// -idle-tick times -idle-buckets, and serves a read-only introspection panel on -control-addr.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/govoltron/reactor"
	"github.com/govoltron/reactor/codec"
	"github.com/govoltron/reactor/control"
	"github.com/govoltron/reactor/logging"
	"github.com/govoltron/reactor/reap"
)

func main() {
	addr := flag.String("addr", ":9200", "listen address")
	controlAddr := flag.String("control-addr", ":9201", "introspection panel listen address")
	numLoops := flag.Int("loops", 4, "number of I/O loops in the pool")
	idleTick := flag.Duration("idle-tick", 10*time.Second, "reaper bucket width")
	idleBuckets := flag.Int("idle-buckets", 6, "reaper bucket count")
	flag.Parse()

	log := logging.L()
	defer log.Sync()

	loop, err := reactor.NewEventLoop(reactor.WithLogger(log))
	if err != nil {
		log.Fatal("new event loop", zap.Error(err))
	}

	srv, err := reactor.NewTcpServer(loop, "chat", *addr,
		reactor.WithLogger(log),
		reactor.WithNumEventLoopThreads(*numLoops),
	)
	if err != nil {
		log.Fatal("new tcp server", zap.Error(err))
	}

	framer := codec.NewFramer()

	panel := control.NewPanel(log)
	panel.RegisterServer(srv)
	panel.RegisterLoop("base", loop)

	reapers := make(map[*reactor.EventLoop]*reap.Reaper)
	srv.SetLoopInitCallback(func(l *reactor.EventLoop) {
		reapers[l] = reap.New(l, *idleTick, *idleBuckets)
	})

	srv.ConnectionCallback = func(conn *reactor.TcpConnection) {
		if conn.Connected() {
			if r, ok := reapers[conn.Loop()]; ok {
				r.OnConnect(conn)
			}
			log.Info("peer joined", zap.String("conn", conn.Name()))
		} else {
			log.Info("peer left", zap.String("conn", conn.Name()))
		}
	}
	framer.FrameCallback = func(conn *reactor.TcpConnection, payload []byte, _ time.Time) {
		if r, ok := reapers[conn.Loop()]; ok {
			r.OnMessage(conn)
		}
		frame, err := framer.Encode(payload)
		if err != nil {
			log.Warn("dropping oversized broadcast payload", zap.Error(err))
			return
		}
		srv.Broadcast(frame)
	}
	srv.MessageCallback = framer.OnMessage

	app := reactor.NewApp(reactor.WithLogger(log))
	app.Register(reactor.TcpServerService{Server: srv})
	app.Register(reactor.ServiceFunc(func(ctx context.Context) { panel.AsyncStart(*controlAddr); <-ctx.Done() }))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = panel.Shutdown(shutdownCtx)
		app.Stop()
		loop.Quit()
	}()

	log.Info("chat server listening", zap.String("addr", srv.Addr().String()), zap.String("control", *controlAddr))
	// The loop runs on main, the goroutine that constructed it; the App
	// runs beside it and stops the loop once its services have shut down.
	appErr := make(chan error, 1)
	go func() {
		appErr <- app.Run(ctx)
		loop.QueueInLoop(loop.Quit)
	}()
	loop.Loop()
	if err := <-appErr; err != nil {
		log.Error("app exited with error", zap.Error(err))
		os.Exit(1)
	}
}
