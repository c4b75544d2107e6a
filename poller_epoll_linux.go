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

//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

func newDefaultPoller(loop *EventLoop) (poller, error) { return newEpollPoller(loop) }

const initialEpollEventListSize = 16

// epollPoller is a straight translation of muduo's EPollPoller: an epoll
// instance plus a userspace fd->channel map, since epoll_event's data
// field carries only an fd, not a safely GC-tracked pointer.
type epollPoller struct {
	loop     *EventLoop
	epfd     int
	events   []unix.EpollEvent
	channels map[int]*channel
}

func newEpollPoller(loop *EventLoop) (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		loop:     loop,
		epfd:     epfd,
		events:   make([]unix.EpollEvent, initialEpollEventListSize),
		channels: make(map[int]*channel),
	}, nil
}

func (p *epollPoller) poll(timeoutMs int, active *[]*channel) (time.Time, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, err
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		ch.revents = int32(ev.Events)
		*active = append(*active, ch)
	}
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return now, nil
}

func (p *epollPoller) updateChannel(c *channel) {
	switch c.index {
	case indexNew, indexDeleted:
		if c.index == indexNew {
			p.channels[c.fd] = c
		}
		c.index = indexAdded
		p.epollCtl(unix.EPOLL_CTL_ADD, c)
	default: // indexAdded
		if c.isNoneEvent() {
			p.epollCtl(unix.EPOLL_CTL_DEL, c)
			c.index = indexDeleted
		} else {
			p.epollCtl(unix.EPOLL_CTL_MOD, c)
		}
	}
}

func (p *epollPoller) removeChannel(c *channel) {
	delete(p.channels, c.fd)
	if c.index == indexAdded {
		p.epollCtl(unix.EPOLL_CTL_DEL, c)
	}
	c.index = indexNew
}

func (p *epollPoller) hasChannel(c *channel) bool {
	ch, ok := p.channels[c.fd]
	return ok && ch == c
}

func (p *epollPoller) usesTimerFd() bool { return true }

func (p *epollPoller) close() error { return unix.Close(p.epfd) }

func (p *epollPoller) epollCtl(op int, c *channel) {
	ev := unix.EpollEvent{
		Events: uint32(c.events),
		Fd:     int32(c.fd),
	}
	_ = unix.EpollCtl(p.epfd, op, c.fd, &ev)
}
