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
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// eventfdWakeup lets any goroutine interrupt an EventLoop blocked in
// epoll_wait by writing to a dedicated eventfd, exactly as muduo's
// EventLoop::wakeup does.
type eventfdWakeup struct {
	fd int
}

func newWakeup() (*eventfdWakeup, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &eventfdWakeup{fd: fd}, nil
}

func (w *eventfdWakeup) readFd() int { return w.fd }

func (w *eventfdWakeup) wake() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	_, err := unix.Write(w.fd, one[:])
	return err
}

func (w *eventfdWakeup) drain() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
}

func (w *eventfdWakeup) close() error { return unix.Close(w.fd) }
