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

//go:build !linux

package reactor

import "golang.org/x/sys/unix"

// eventfdWakeup is named for parity with the Linux backend but is backed
// by a self-pipe, the classic portable substitute for eventfd.
type eventfdWakeup struct {
	readFdv, writeFd int
}

func newWakeup() (*eventfdWakeup, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &eventfdWakeup{readFdv: fds[0], writeFd: fds[1]}, nil
}

func (w *eventfdWakeup) readFd() int { return w.readFdv }

func (w *eventfdWakeup) wake() error {
	_, err := unix.Write(w.writeFd, []byte{1})
	return err
}

func (w *eventfdWakeup) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.readFdv, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (w *eventfdWakeup) close() error {
	_ = unix.Close(w.writeFd)
	return unix.Close(w.readFdv)
}
