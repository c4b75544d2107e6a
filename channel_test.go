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
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestChannelDispatchesReadOnPOLLIN(t *testing.T) {
	c := newChannel(nil, 0)
	var gotRead bool
	c.readCallback = func(time.Time) { gotRead = true }
	c.revents = unix.POLLIN
	c.handleEvent(time.Now())
	if !gotRead {
		t.Fatal("POLLIN did not invoke readCallback")
	}
}

func TestChannelDispatchesWriteOnPOLLOUT(t *testing.T) {
	c := newChannel(nil, 0)
	var gotWrite bool
	c.writeCallback = func() { gotWrite = true }
	c.revents = unix.POLLOUT
	c.handleEvent(time.Now())
	if !gotWrite {
		t.Fatal("POLLOUT did not invoke writeCallback")
	}
}

func TestChannelHangupWithoutReadableDataClosesInsteadOfReading(t *testing.T) {
	c := newChannel(nil, 0)
	var gotRead, gotClose bool
	c.readCallback = func(time.Time) { gotRead = true }
	c.closeCallback = func() { gotClose = true }
	c.revents = unix.POLLHUP
	c.handleEvent(time.Now())
	if gotRead {
		t.Fatal("POLLHUP alone should not invoke readCallback")
	}
	if !gotClose {
		t.Fatal("POLLHUP alone should invoke closeCallback")
	}
}

func TestChannelHangupWithPendingDataStillReads(t *testing.T) {
	c := newChannel(nil, 0)
	var gotRead, gotClose bool
	c.readCallback = func(time.Time) { gotRead = true }
	c.closeCallback = func() { gotClose = true }
	c.revents = unix.POLLHUP | unix.POLLIN
	c.handleEvent(time.Now())
	if !gotRead {
		t.Fatal("POLLHUP|POLLIN should still invoke readCallback to drain remaining data")
	}
	if gotClose {
		t.Fatal("POLLHUP|POLLIN should not invoke closeCallback directly")
	}
}

func TestChannelInvalidFdClosesRegardlessOfOtherBits(t *testing.T) {
	c := newChannel(nil, 0)
	var gotClose bool
	c.closeCallback = func() { gotClose = true }
	c.revents = unix.POLLNVAL | unix.POLLIN
	c.handleEvent(time.Now())
	if !gotClose {
		t.Fatal("POLLNVAL should invoke closeCallback")
	}
}

func TestChannelTieGoneSuppressesDispatch(t *testing.T) {
	c := newChannel(nil, 0)
	var gotRead bool
	c.readCallback = func(time.Time) { gotRead = true }
	c.revents = unix.POLLIN
	c.tie(func() bool { return true })
	c.handleEvent(time.Now())
	if gotRead {
		t.Fatal("tieGone returning true should suppress event dispatch entirely")
	}
}

func TestChannelInterestBitToggles(t *testing.T) {
	c := &channel{loop: nil, fd: 0, index: indexNew}
	c.events = eventRead
	if !c.isReading() || c.isWriting() {
		t.Fatal("expected reading-only interest set")
	}
	c.events |= eventWrite
	if !c.isWriting() {
		t.Fatal("expected write interest to be set")
	}
	c.events = eventNone
	if !c.isNoneEvent() {
		t.Fatal("expected no interest after clearing both bits")
	}
}
