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

import "time"

// timerSource is how a timerQueue wakes its EventLoop's multiplexer for
// the earliest pending deadline. The Linux implementation arms a real
// timerfd; the portable implementation is a no-op and instead relies on
// the EventLoop capping its poll(2) timeout at timerQueue.nextTimeoutMs.
type timerSource interface {
	// channel returns the Channel to register for readability, or nil if
	// this source does not use one (the portable backend).
	channel() *channel
	arm(d time.Duration)
	drainReady()
	close() error
}
