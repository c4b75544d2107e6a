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
	"time"

	"golang.org/x/sys/unix"
)

// Interest and readiness bits. These reuse the numeric values of POLLIN,
// POLLOUT, etc: on Linux the EPOLL* constants are defined to the same
// values as the corresponding POLL* constants, so a single bitmask
// vocabulary serves both the epoll and poll(2) backends without
// translation.
const (
	eventNone  = 0
	eventRead  = unix.POLLIN | unix.POLLPRI
	eventWrite = unix.POLLOUT
)

// pollerIndex records a channel's bookkeeping state inside its Poller, so
// updateChannel/removeChannel can tell a brand new registration from one
// that merely changed its interest set.
type pollerIndex int

const (
	indexNew pollerIndex = iota - 1
	indexAdded
	indexDeleted
)

// channel couples a file descriptor to the callbacks invoked when it
// becomes readable, writable, closed or errored. A channel is created and
// destroyed on, and may only be mutated from, its owning EventLoop's
// goroutine.
type channel struct {
	loop *EventLoop
	fd   int

	events  int32
	revents int32
	index   pollerIndex

	readCallback  func(when time.Time)
	writeCallback func()
	closeCallback func()
	errorCallback func()

	eventHandling bool
	addedToLoop   bool
	logHup        bool

	// tieGone, when non-nil, is polled before dispatching an event; it
	// lets a TcpConnection detach its Channel from event handling once
	// torn down without the two having to agree on destruction order.
	// It stands in for muduo's weak_ptr "tie" -- Go's garbage collector
	// already keeps the owner alive for as long as this closure does, so
	// there is no lifetime hazard to guard against, only a "has this
	// already been torn down" check.
	tieGone func() bool
}

func newChannel(loop *EventLoop, fd int) *channel {
	return &channel{
		loop:  loop,
		fd:    fd,
		index: indexNew,
	}
}

func (c *channel) tie(goneCheck func() bool) {
	c.tieGone = goneCheck
}

func (c *channel) enableReading() {
	c.events |= eventRead
	c.update()
}

func (c *channel) disableReading() {
	c.events &^= eventRead
	c.update()
}

func (c *channel) enableWriting() {
	c.events |= eventWrite
	c.update()
}

func (c *channel) disableWriting() {
	c.events &^= eventWrite
	c.update()
}

func (c *channel) disableAll() {
	c.events = eventNone
	c.update()
}

func (c *channel) isWriting() bool { return c.events&eventWrite != 0 }
func (c *channel) isReading() bool { return c.events&eventRead != 0 }
func (c *channel) isNoneEvent() bool { return c.events == eventNone }

func (c *channel) update() {
	c.addedToLoop = true
	c.loop.updateChannel(c)
}

// remove deregisters the channel from its loop's poller. The channel must
// have no pending interest and must not be in the middle of having an
// event dispatched.
func (c *channel) remove() {
	c.addedToLoop = false
	c.loop.removeChannel(c)
}

// handleEvent runs the callback(s) matching revents, set by the most
// recent Poller.Poll call. when is the time the poller returned, used so
// timer and I/O callbacks observe a consistent notion of "now" for one
// iteration of the loop.
func (c *channel) handleEvent(when time.Time) {
	if c.tieGone != nil && c.tieGone() {
		return
	}
	c.handleEventWithGuard(when)
}

func (c *channel) handleEventWithGuard(when time.Time) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.revents&unix.POLLNVAL != 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
		return
	}
	if c.revents&(unix.POLLHUP) != 0 && c.revents&unix.POLLIN == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
		return
	}
	if c.revents&(unix.POLLERR) != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(unix.POLLIN|unix.POLLPRI|pollrdhup) != 0 {
		if c.readCallback != nil {
			c.readCallback(when)
		}
	}
	if c.revents&unix.POLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
