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

// timerfdSource arms a CLOCK_MONOTONIC timerfd for the earliest pending
// Timer, following muduo's TimerQueue::resetTimerfd exactly: a relative
// one-shot ITIMERSPEC, rearmed after every expiration rather than left
// periodic, since the set of due timers can change arbitrarily between
// wakeups.
type timerfdSource struct {
	fd int
	ch *channel
}

func newTimerSource(loop *EventLoop, tq *timerQueue) timerSource {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		// Timerfd exhaustion is rare enough that failing construction is
		// preferable to silently falling back to a different time base.
		panic("reactor: timerfd_create: " + err.Error())
	}
	src := &timerfdSource{fd: fd}
	src.ch = newChannel(loop, fd)
	src.ch.readCallback = func(when time.Time) { tq.handleExpired(when) }
	return src
}

func (s *timerfdSource) channel() *channel { return s.ch }

func (s *timerfdSource) arm(d time.Duration) {
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	_ = unix.TimerfdSettime(s.fd, 0, &spec, nil)
}

func (s *timerfdSource) drainReady() {
	var buf [8]byte
	_, _ = unix.Read(s.fd, buf[:])
}

func (s *timerfdSource) close() error { return unix.Close(s.fd) }
