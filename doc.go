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

// Package reactor is a non-blocking, event-driven TCP networking core built
// around the reactor pattern: a handful of EventLoops, each bound to one
// goroutine, each driving a readiness multiplexer (epoll on Linux, poll(2)
// elsewhere), dispatching Channels, running due timers and cross-loop tasks.
//
// Every mutable object in this package is owned by exactly one EventLoop.
// Touching it from any other goroutine without going through RunInLoop,
// QueueInLoop or TcpConnection.Send is a programming defect.
package reactor
