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

// Command reactor-echo runs a plain byte-echo TCP server: whatever a
// client sends is written straight back, across as many I/O loops as
// -loops requests.
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
	"github.com/govoltron/reactor/logging"
)

func main() {
	addr := flag.String("addr", ":9100", "listen address")
	numLoops := flag.Int("loops", 0, "number of I/O loops in the pool (0 = serve from the base loop)")
	flag.Parse()

	log := logging.L()
	defer log.Sync()

	loop, err := reactor.NewEventLoop(reactor.WithLogger(log))
	if err != nil {
		log.Fatal("new event loop", zap.Error(err))
	}

	srv, err := reactor.NewTcpServer(loop, "echo", *addr,
		reactor.WithLogger(log),
		reactor.WithNumEventLoopThreads(*numLoops),
	)
	if err != nil {
		log.Fatal("new tcp server", zap.Error(err))
	}

	srv.ConnectionCallback = func(conn *reactor.TcpConnection) {
		log.Info("connection state changed",
			zap.String("conn", conn.Name()),
			zap.Bool("connected", conn.Connected()))
	}
	srv.MessageCallback = func(conn *reactor.TcpConnection, buf *reactor.Buffer, _ time.Time) {
		echoed := buf.RetrieveAllAsString()
		_ = conn.SendString(echoed)
	}

	app := reactor.NewApp(reactor.WithLogger(log))
	app.Register(reactor.TcpServerService{Server: srv})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		app.Stop()
		loop.Quit()
	}()

	log.Info("echo server listening", zap.String("addr", srv.Addr().String()))
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
