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

//go:build !windows

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable fallback multiplexer built on poll(2). It
// backs every non-Linux unix target and is also selectable on Linux via
// REACTOR_POLLER=poll, mainly for testing the backend-agnostic EventLoop
// code paths without a container that supports epoll.
type pollPoller struct {
	loop     *EventLoop
	pollfds  []unix.PollFd
	channels map[int]*channel
}

func newPollPoller(loop *EventLoop) (poller, error) {
	return &pollPoller{
		loop:     loop,
		channels: make(map[int]*channel),
	}, nil
}

func (p *pollPoller) poll(timeoutMs int, active *[]*channel) (time.Time, error) {
	n, err := unix.Poll(p.pollfds, timeoutMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, err
	}
	if n > 0 {
		for _, pfd := range p.pollfds {
			if pfd.Revents == 0 {
				continue
			}
			ch, ok := p.channels[int(pfd.Fd)]
			if !ok {
				continue
			}
			ch.revents = int32(pfd.Revents)
			*active = append(*active, ch)
		}
	}
	return now, nil
}

func (p *pollPoller) updateChannel(c *channel) {
	if c.index == indexNew {
		p.channels[c.fd] = c
		c.index = indexAdded
		p.pollfds = append(p.pollfds, unix.PollFd{Fd: int32(c.fd), Events: int16(c.events)})
		return
	}
	for i := range p.pollfds {
		if int(p.pollfds[i].Fd) == c.fd {
			if c.isNoneEvent() {
				p.pollfds = append(p.pollfds[:i], p.pollfds[i+1:]...)
				c.index = indexDeleted
			} else {
				p.pollfds[i].Events = int16(c.events)
				p.pollfds[i].Revents = 0
			}
			return
		}
	}
}

func (p *pollPoller) removeChannel(c *channel) {
	delete(p.channels, c.fd)
	for i := range p.pollfds {
		if int(p.pollfds[i].Fd) == c.fd {
			p.pollfds = append(p.pollfds[:i], p.pollfds[i+1:]...)
			break
		}
	}
	c.index = indexNew
}

func (p *pollPoller) hasChannel(c *channel) bool {
	ch, ok := p.channels[c.fd]
	return ok && ch == c
}

func (p *pollPoller) usesTimerFd() bool { return false }

func (p *pollPoller) close() error { return nil }
