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
	"testing"
	"time"
)

func TestTimerHeapOrdersByExpirationThenSequence(t *testing.T) {
	now := time.Now()
	h := &timerHeap{}
	heap.Init(h)

	heap.Push(h, &Timer{expiration: now.Add(3 * time.Second), sequence: 2})
	heap.Push(h, &Timer{expiration: now.Add(1 * time.Second), sequence: 1})
	heap.Push(h, &Timer{expiration: now.Add(1 * time.Second), sequence: 0})
	heap.Push(h, &Timer{expiration: now.Add(2 * time.Second), sequence: 3})

	var order []int64
	for h.Len() > 0 {
		order = append(order, heap.Pop(h).(*Timer).sequence)
	}
	want := []int64{0, 1, 3, 2}
	for i, seq := range want {
		if order[i] != seq {
			t.Fatalf("pop order = %v, want %v", order, want)
		}
	}
}

func TestTimerHeapRemoveByIndex(t *testing.T) {
	h := &timerHeap{}
	heap.Init(h)
	now := time.Now()
	a := &Timer{expiration: now, sequence: 1}
	b := &Timer{expiration: now.Add(time.Second), sequence: 2}
	c := &Timer{expiration: now.Add(2 * time.Second), sequence: 3}
	heap.Push(h, a)
	heap.Push(h, b)
	heap.Push(h, c)

	heap.Remove(h, b.heapIndex)
	if h.Len() != 2 {
		t.Fatalf("heap len after remove = %d, want 2", h.Len())
	}
	for _, rem := range *h {
		if rem.sequence == 2 {
			t.Fatalf("removed timer still present in heap")
		}
	}
}

func newTestLoop(t *testing.T) *EventLoop {
	t.Helper()
	// The loop is constructed, run and closed on one goroutine, the one
	// NewEventLoop binds it to.
	loopc := make(chan *EventLoop, 1)
	errc := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop, err := NewEventLoop()
		if err != nil {
			errc <- err
			close(loopc)
			return
		}
		loopc <- loop
		loop.Loop()
		_ = loop.Close()
	}()
	loop, ok := <-loopc
	if !ok {
		t.Fatalf("NewEventLoop: %v", <-errc)
	}
	t.Cleanup(func() {
		loop.Quit()
		<-done
	})
	for !loop.IsRunning() {
		time.Sleep(time.Millisecond)
	}
	return loop
}

func TestEventLoopRunAfterFires(t *testing.T) {
	loop := newTestLoop(t)

	fired := make(chan struct{}, 1)
	loop.RunAfter(20*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire within deadline")
	}
}

func TestEventLoopRunEveryRepeats(t *testing.T) {
	loop := newTestLoop(t)

	ticks := make(chan struct{}, 8)
	loop.RunEvery(10*time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatalf("only received %d/%d ticks", i, 3)
		}
	}
}

func TestEventLoopCancelTimerPreventsFiring(t *testing.T) {
	loop := newTestLoop(t)

	fired := make(chan struct{}, 1)
	id := loop.RunAfter(30*time.Millisecond, func() { fired <- struct{}{} })
	loop.CancelTimer(id)

	select {
	case <-fired:
		t.Fatal("canceled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestEventLoopQueueInLoopRunsOnLoopGoroutine(t *testing.T) {
	loop := newTestLoop(t)

	done := make(chan bool, 1)
	loop.QueueInLoop(func() { done <- loop.IsInLoopThread() })

	select {
	case ranInLoop := <-done:
		if !ranInLoop {
			t.Fatal("QueueInLoop functor did not run on the loop's own goroutine")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued functor never ran")
	}
}
