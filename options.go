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
	"os"

	"go.uber.org/zap"
)

// options collects the constructor-time configuration shared by
// EventLoop, TcpServer and TcpClient. Fields are unexported; callers
// configure them through Option values, never by literal construction.
type options struct {
	logger *zap.Logger

	reusePort bool
	noDelay   bool
	keepAlive bool
	numLoops  int
}

// Option configures an EventLoop, TcpServer or TcpClient at construction
// time.
type Option func(*options)

// WithLogger overrides the *zap.Logger used for this loop's own
// diagnostics. Defaults to the process-wide logger from logging.L().
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithReusePort sets SO_REUSEPORT on listening sockets, letting several
// TcpServers (typically one per CPU) share a single port with kernel-side
// load balancing between them.
func WithReusePort(v bool) Option {
	return func(o *options) { o.reusePort = v }
}

// WithTCPNoDelay toggles TCP_NODELAY (disabling Nagle's algorithm) on
// accepted and outbound connections. Defaults to true, matching the
// low-latency assumption most reactor-style servers make.
func WithTCPNoDelay(v bool) Option {
	return func(o *options) { o.noDelay = v }
}

// WithTCPKeepAlive toggles SO_KEEPALIVE on accepted and outbound
// connections.
func WithTCPKeepAlive(v bool) Option {
	return func(o *options) { o.keepAlive = v }
}

// WithNumEventLoopThreads sets the size of a TcpServer's I/O thread pool.
// Zero (the default) runs everything on the server's own loop.
func WithNumEventLoopThreads(n int) Option {
	return func(o *options) { o.numLoops = n }
}

func defaultOptions() *options {
	o := &options{
		logger:    defaultLogger(),
		noDelay:   true,
		keepAlive: true,
	}
	if v := os.Getenv("REACTOR_POLLER"); v != "" {
		// Consumed directly by newPollerFromEnv; recorded here only so
		// options.logger can note the effective backend at startup.
		o.logger = o.logger.With(zap.String("poller_override", v))
	}
	return o
}
