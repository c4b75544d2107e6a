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
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Service is one independently startable and stoppable unit of a
// process: typically a TcpServer, a TcpClient, or a background worker
// loop. App exists to run several of these together and bring them all
// down cleanly on the same signal.
type Service interface {
	Name() string
	Init(ctx context.Context) error
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// ServiceFunc adapts a plain function into a Service with no
// initialization or shutdown work of its own.
type ServiceFunc func(ctx context.Context)

func (f ServiceFunc) Name() string                    { return "service-run-function" }
func (f ServiceFunc) Init(ctx context.Context) error  { return nil }
func (f ServiceFunc) Run(ctx context.Context)         { f(ctx) }
func (f ServiceFunc) Shutdown(ctx context.Context) error { return nil }

// App runs a fixed set of Services, starting them after Init succeeds
// for all of them and stopping every one once its context is canceled,
// collecting every shutdown error instead of stopping at the first.
type App struct {
	log *zap.Logger

	mu       sync.Mutex
	services []Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp creates an App. The logger option, if given, is used for the
// App's own lifecycle logging; each Service still does its own.
func NewApp(opts ...Option) *App {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &App{log: o.logger}
}

// Register adds s to the set Run will start. Must be called before Run.
func (a *App) Register(s Service) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.services = append(a.services, s)
}

// Run initializes every registered Service, starts each on its own
// goroutine, then blocks until ctx is canceled, at which point it shuts
// every Service down and waits for all Run goroutines to return.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.mu.Lock()
	services := append([]Service(nil), a.services...)
	a.mu.Unlock()

	var initErr error
	for _, s := range services {
		if err := s.Init(ctx); err != nil {
			initErr = multierr.Append(initErr, fmt.Errorf("%s: init: %w", s.Name(), err))
		}
	}
	if initErr != nil {
		cancel()
		return initErr
	}

	for _, s := range services {
		s := s
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			s.Run(ctx)
		}()
		a.log.Info("service started", zap.String("service", s.Name()))
	}

	<-ctx.Done()
	return a.shutdown(context.Background(), services)
}

// Stop cancels the context passed to Run, triggering shutdown.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *App) shutdown(ctx context.Context, services []Service) error {
	var err error
	for _, s := range services {
		if shutErr := s.Shutdown(ctx); shutErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: shutdown: %w", s.Name(), shutErr))
		}
		a.log.Info("service stopped", zap.String("service", s.Name()))
	}
	a.wg.Wait()
	return err
}

// TcpServerService adapts a *TcpServer into a Service so it can be
// registered with an App alongside other services.
type TcpServerService struct {
	Server *TcpServer
}

func (s TcpServerService) Name() string { return s.Server.Name() }
func (s TcpServerService) Init(context.Context) error { return nil }

func (s TcpServerService) Run(ctx context.Context) {
	if err := s.Server.Start(); err != nil {
		s.Server.log.Error("server failed to start", zap.Error(err))
		return
	}
	<-ctx.Done()
}

func (s TcpServerService) Shutdown(context.Context) error {
	s.Server.Stop()
	return nil
}
