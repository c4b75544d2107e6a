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
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// pollTimeout bounds how long a single Poller.poll call may block, so an
// EventLoop with no registered channels still wakes periodically to
// notice Quit or a pending functor posted without a wakeup (defensive;
// wakeup should always cover that case).
const pollTimeout = 10 * time.Second

// EventLoop is a single-goroutine event dispatcher: one readiness
// multiplexer, one pending-functor queue and one TimerQueue. Every
// Channel, Timer and TcpConnection registered on an EventLoop may only be
// touched from the goroutine that calls Loop, except through RunInLoop,
// QueueInLoop or TcpConnection.Send.
type EventLoop struct {
	log *zap.Logger

	poller poller
	wakeup *eventfdWakeup
	wakeupChannel *channel
	timers *timerQueue

	goroutineID int64

	looping                atomic.Bool
	quitFlag               atomic.Bool
	eventHandling          atomic.Bool
	callingPendingFunctors atomic.Bool
	iteration              atomic.Int64
	timerSeq               atomic.Int64
	channelCount           atomic.Int64
	lastPollLatency        atomic.Duration

	mu              sync.Mutex
	pendingFunctors []func()

	currentActiveChannel *channel
}

// NewEventLoop constructs an EventLoop bound to the calling goroutine.
// The returned loop must have Loop called from that same goroutine.
func NewEventLoop(opts ...Option) (*EventLoop, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	l := &EventLoop{
		log:         o.logger,
		goroutineID: goroutineID(),
	}

	p, err := newPollerFromEnv(l)
	if err != nil {
		return nil, fmt.Errorf("reactor: new poller: %w", err)
	}
	l.poller = p

	wk, err := newWakeup()
	if err != nil {
		p.close()
		return nil, fmt.Errorf("reactor: new wakeup: %w", err)
	}
	l.wakeup = wk
	l.wakeupChannel = newChannel(l, wk.readFd())
	l.wakeupChannel.readCallback = func(time.Time) {
		wk.drain()
	}
	l.wakeupChannel.enableReading()

	l.timers = newTimerQueue(l)
	if src := l.timers.source.channel(); src != nil {
		src.enableReading()
	}

	return l, nil
}

func (l *EventLoop) nextTimerSequence() int64 { return l.timerSeq.Inc() }

// IsInLoopThread reports whether the calling goroutine is the one running
// Loop for this EventLoop.
func (l *EventLoop) IsInLoopThread() bool { return goroutineID() == l.goroutineID }

func (l *EventLoop) assertInLoopThread() {
	if !l.IsInLoopThread() {
		l.log.Panic("reactor: event loop used from a foreign goroutine",
			zap.Int64("owner_goroutine", l.goroutineID),
			zap.Int64("caller_goroutine", goroutineID()))
	}
}

// IsRunning reports whether Loop is currently executing.
func (l *EventLoop) IsRunning() bool { return l.looping.Load() }

// Loop runs the reactor until Quit is called. It must be invoked from the
// same goroutine that constructed the EventLoop.
func (l *EventLoop) Loop() {
	l.assertInLoopThread()
	l.looping.Store(true)
	l.quitFlag.Store(false)
	l.log.Debug("event loop started")

	var active []*channel
	for !l.quitFlag.Load() {
		active = active[:0]

		timeoutMs := int(pollTimeout / time.Millisecond)
		if !l.poller.usesTimerFd() {
			timeoutMs = l.timers.nextTimeoutMs(timeoutMs)
		}

		pollStart := time.Now()
		pollReturnTime, err := l.poller.poll(timeoutMs, &active)
		l.lastPollLatency.Store(time.Since(pollStart))
		if err != nil {
			l.log.Error("poller wait failed", zap.Error(err))
			continue
		}
		l.iteration.Inc()

		l.eventHandling.Store(true)
		for _, ch := range active {
			l.currentActiveChannel = ch
			ch.handleEvent(pollReturnTime)
		}
		l.currentActiveChannel = nil
		l.eventHandling.Store(false)

		if !l.poller.usesTimerFd() {
			l.timers.handleExpired(pollReturnTime)
		}

		l.doPendingFunctors()
	}

	l.log.Debug("event loop stopped")
	l.looping.Store(false)
}

// Quit asks the loop to return from Loop after finishing its current
// iteration. Safe to call from any goroutine.
func (l *EventLoop) Quit() {
	l.quitFlag.Store(true)
	if !l.IsInLoopThread() {
		l.Wakeup()
	}
}

// Wakeup interrupts a blocked poller.poll call. Mostly useful to tests and
// to QueueInLoop; application code rarely needs it directly.
func (l *EventLoop) Wakeup() {
	if err := l.wakeup.wake(); err != nil {
		l.log.Warn("wakeup write failed", zap.Error(err))
	}
}

// RunInLoop runs fn on this loop's goroutine. If called from that
// goroutine already, fn runs synchronously; otherwise it is queued and
// the loop is woken.
func (l *EventLoop) RunInLoop(fn func()) {
	if l.IsInLoopThread() {
		fn()
		return
	}
	l.QueueInLoop(fn)
}

// QueueInLoop always defers fn to run on the loop's goroutine during its
// next pass over pendingFunctors, even when called from that same
// goroutine (useful from within a callback that must not reenter itself).
func (l *EventLoop) QueueInLoop(fn func()) {
	l.mu.Lock()
	l.pendingFunctors = append(l.pendingFunctors, fn)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPendingFunctors.Load() {
		l.Wakeup()
	}
}

// doPendingFunctors swaps the pending queue out under the lock and runs
// it unlocked, bounding the time the lock is held and letting a functor
// safely call QueueInLoop again without deadlocking.
func (l *EventLoop) doPendingFunctors() {
	l.mu.Lock()
	functors := l.pendingFunctors
	l.pendingFunctors = nil
	l.mu.Unlock()

	l.callingPendingFunctors.Store(true)
	for _, fn := range functors {
		fn()
	}
	l.callingPendingFunctors.Store(false)
}

// RunAt schedules fn to run once at t.
func (l *EventLoop) RunAt(t time.Time, fn func()) TimerId {
	return l.timers.addTimer(t, 0, fn)
}

// RunAfter schedules fn to run once after d elapses.
func (l *EventLoop) RunAfter(d time.Duration, fn func()) TimerId {
	return l.timers.addTimer(time.Now().Add(d), 0, fn)
}

// RunEvery schedules fn to run repeatedly every d, starting after the
// first interval elapses.
func (l *EventLoop) RunEvery(d time.Duration, fn func()) TimerId {
	return l.timers.addTimer(time.Now().Add(d), d, fn)
}

// CancelTimer cancels a previously scheduled timer.
func (l *EventLoop) CancelTimer(id TimerId) { l.timers.cancel(id) }

// PendingTimers reports the number of timers currently scheduled on this
// loop. Safe to call from any goroutine.
func (l *EventLoop) PendingTimers() int64 { return l.timers.pendingCount.Load() }

// LoopStats is a point-in-time snapshot of an EventLoop's internal
// counters, the shape the introspection panel publishes for each
// registered loop.
type LoopStats struct {
	// Iteration is the number of completed poll/dispatch passes.
	Iteration int64
	// ActiveChannels is the number of file descriptors currently
	// registered with the loop's poller.
	ActiveChannels int64
	// PendingFunctors is the depth of the queue awaiting the loop's next
	// doPendingFunctors pass.
	PendingFunctors int
	// LastPollLatency is how long the most recent poller.poll call took
	// to return.
	LastPollLatency time.Duration
}

// Stats returns a snapshot of this loop's counters. Safe to call from
// any goroutine: the counters are read atomically and the pending-functor
// depth under the queue mutex, never from unsynchronized loop-internal
// state.
func (l *EventLoop) Stats() LoopStats {
	l.mu.Lock()
	pending := len(l.pendingFunctors)
	l.mu.Unlock()

	return LoopStats{
		Iteration:       l.iteration.Load(),
		ActiveChannels:  l.channelCount.Load(),
		PendingFunctors: pending,
		LastPollLatency: l.lastPollLatency.Load(),
	}
}

func (l *EventLoop) updateChannel(c *channel) {
	l.assertInLoopThread()
	before := c.index
	l.poller.updateChannel(c)
	if before != indexAdded && c.index == indexAdded {
		l.channelCount.Inc()
	} else if before == indexAdded && c.index != indexAdded {
		l.channelCount.Dec()
	}
}

func (l *EventLoop) removeChannel(c *channel) {
	l.assertInLoopThread()
	if l.currentActiveChannel == c {
		// The channel removed itself from within its own event
		// handling; poller.removeChannel still runs, but we must not
		// leave currentActiveChannel dangling into freed state.
		l.currentActiveChannel = nil
	}
	if c.index == indexAdded {
		l.channelCount.Dec()
	}
	l.poller.removeChannel(c)
}

func (l *EventLoop) hasChannel(c *channel) bool {
	l.assertInLoopThread()
	return l.poller.hasChannel(c)
}

// Close releases the loop's poller, wakeup and timer file descriptors.
// Call only after Loop has returned, and from the goroutine that owns the
// loop: removing the wakeup channel asserts that goroutine.
func (l *EventLoop) Close() error {
	l.wakeupChannel.remove()
	_ = l.wakeup.close()
	_ = l.timers.source.close()
	return l.poller.close()
}
