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
	"time"
)

// poller is the readiness-multiplexer abstraction each EventLoop drives.
// Every method is called only from the owning EventLoop's goroutine.
type poller interface {
	// poll blocks for at most timeoutMs milliseconds, appends every
	// channel that became ready to active, and returns the time it
	// unblocked.
	poll(timeoutMs int, active *[]*channel) (time.Time, error)
	updateChannel(c *channel)
	removeChannel(c *channel)
	hasChannel(c *channel) bool
	// usesTimerFd reports whether this backend arms timer expirations via
	// a kernel timer descriptor wired into the same multiplexer (true for
	// the epoll backend) or needs the EventLoop to poll timerQueue itself on every
	// wakeup (the portable fallback).
	usesTimerFd() bool
	close() error
}

// pollerEnvVar selects a non-default backend for testing or for platforms
// where epoll is unavailable despite running Linux (e.g. a restrictive
// container). Recognized values: "epoll", "poll".
const pollerEnvVar = "REACTOR_POLLER"

func newPollerFromEnv(loop *EventLoop) (poller, error) {
	switch os.Getenv(pollerEnvVar) {
	case "poll":
		return newPollPoller(loop)
	case "epoll":
		return newEpollPoller(loop)
	default:
		return newDefaultPoller(loop)
	}
}
