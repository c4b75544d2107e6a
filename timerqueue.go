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
	"container/heap"
	"time"

	"go.uber.org/atomic"
)

// minTimerInterval is the shortest delay the queue will ever arm the
// kernel timer descriptor for; matches muduo's 100-microsecond floor in
// TimerQueue::howMuchTimeFromNow, which exists because a zero interval
// passed to timerfd_settime disarms the timer instead of firing it.
const minTimerInterval = 100 * time.Microsecond

// timerQueue manages every Timer registered on one EventLoop. All of its
// methods except addTimer and cancel must run on the owning loop's
// goroutine; those two are safe to call from any goroutine and hop onto
// the loop via RunInLoop.
type timerQueue struct {
	loop   *EventLoop
	source timerSource

	timers       timerHeap
	active       map[int64]*Timer
	canceling    map[int64]bool
	callingExpired bool

	// pendingCount mirrors len(active), published so PendingTimers can be
	// read from any goroutine without touching active, which is only
	// safe on the loop goroutine.
	pendingCount atomic.Int64
}

func newTimerQueue(loop *EventLoop) *timerQueue {
	tq := &timerQueue{
		loop:      loop,
		active:    make(map[int64]*Timer),
		canceling: make(map[int64]bool),
	}
	tq.source = newTimerSource(loop, tq)
	return tq
}

// addTimer schedules callback to run at `when`, repeating every interval
// if interval > 0. Safe to call from any goroutine.
func (tq *timerQueue) addTimer(when time.Time, interval time.Duration, callback func()) TimerId {
	seq := tq.loop.nextTimerSequence()
	t := &Timer{
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		callback:   callback,
		sequence:   seq,
	}
	id := TimerId{timer: t, sequence: seq}
	tq.loop.RunInLoop(func() { tq.addTimerInLoop(t) })
	return id
}

func (tq *timerQueue) addTimerInLoop(t *Timer) {
	tq.loop.assertInLoopThread()
	earliestChanged := tq.insert(t)
	if earliestChanged {
		tq.source.arm(tq.earliestDelay())
	}
}

// cancel removes a previously scheduled timer. Safe to call from any
// goroutine; a no-op if the timer already fired and was not repeating.
func (tq *timerQueue) cancel(id TimerId) {
	tq.loop.RunInLoop(func() { tq.cancelInLoop(id) })
}

func (tq *timerQueue) cancelInLoop(id TimerId) {
	tq.loop.assertInLoopThread()
	if t, ok := tq.active[id.sequence]; ok {
		delete(tq.active, id.sequence)
		tq.pendingCount.Dec()
		heap.Remove(&tq.timers, t.heapIndex)
		return
	}
	if tq.callingExpired {
		tq.canceling[id.sequence] = true
	}
}

func (tq *timerQueue) insert(t *Timer) (earliestChanged bool) {
	earliestChanged = len(tq.timers) == 0 || t.expiration.Before(tq.timers[0].expiration)
	heap.Push(&tq.timers, t)
	tq.active[t.sequence] = t
	tq.pendingCount.Inc()
	return earliestChanged
}

// handleExpired runs every due timer's callback, then reschedules the
// repeating ones and re-arms the kernel timer for the new earliest
// deadline. Called when the kernel timer descriptor (where there is one)
// becomes readable, and also once per EventLoop iteration when the poller
// reports usesTimerFd false.
func (tq *timerQueue) handleExpired(now time.Time) {
	tq.loop.assertInLoopThread()
	tq.source.drainReady()

	expired := tq.popExpired(now)

	tq.callingExpired = true
	tq.canceling = make(map[int64]bool)
	for _, t := range expired {
		t.callback()
	}
	tq.callingExpired = false

	tq.reset(expired, now)
}

func (tq *timerQueue) popExpired(now time.Time) []*Timer {
	var expired []*Timer
	for len(tq.timers) > 0 && !tq.timers[0].expiration.After(now) {
		t := heap.Pop(&tq.timers).(*Timer)
		delete(tq.active, t.sequence)
		tq.pendingCount.Dec()
		expired = append(expired, t)
	}
	return expired
}

func (tq *timerQueue) reset(expired []*Timer, now time.Time) {
	for _, t := range expired {
		if t.repeat && !tq.canceling[t.sequence] {
			t.expiration = now.Add(t.interval)
			heap.Push(&tq.timers, t)
			tq.active[t.sequence] = t
			tq.pendingCount.Inc()
		}
	}
	if len(tq.timers) > 0 {
		tq.source.arm(tq.earliestDelay())
	}
}

func (tq *timerQueue) earliestDelay() time.Duration {
	d := time.Until(tq.timers[0].expiration)
	if d < minTimerInterval {
		d = minTimerInterval
	}
	return d
}

// nextTimeoutMs bounds the poll(2) timeout for the portable backend,
// which has no kernel timer descriptor of its own to wake the
// multiplexer.
func (tq *timerQueue) nextTimeoutMs(cap int) int {
	if len(tq.timers) == 0 {
		return cap
	}
	ms := int(time.Until(tq.timers[0].expiration) / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	if ms > cap {
		ms = cap
	}
	return ms
}
