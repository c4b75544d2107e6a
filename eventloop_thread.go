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
	"sync"

	"go.uber.org/zap"
)

// EventLoopThread owns an EventLoop constructed and run on a dedicated
// goroutine it starts itself, handing the loop back to the caller once
// it's ready to accept channels.
type EventLoopThread struct {
	loop    *EventLoop
	ready   chan struct{}
	initCb  func(*EventLoop)
	opts    []Option
}

// NewEventLoopThread spawns a goroutine, constructs an EventLoop on it
// and blocks until that loop is ready to use.
func NewEventLoopThread(initCb func(*EventLoop), opts ...Option) (*EventLoopThread, error) {
	t := &EventLoopThread{
		ready:  make(chan struct{}),
		initCb: initCb,
		opts:   opts,
	}

	var constructErr error
	go func() {
		loop, err := NewEventLoop(t.opts...)
		if err != nil {
			constructErr = err
			close(t.ready)
			return
		}
		t.loop = loop
		if t.initCb != nil {
			t.initCb(loop)
		}
		close(t.ready)
		loop.Loop()
	}()

	<-t.ready
	if constructErr != nil {
		return nil, constructErr
	}
	return t, nil
}

// Loop returns the EventLoop running on this thread.
func (t *EventLoopThread) Loop() *EventLoop { return t.loop }

// Stop asks the loop to quit. It does not wait for the loop's goroutine
// to actually return; callers needing that must coordinate separately
// (for example by polling the loop's IsRunning).
func (t *EventLoopThread) Stop() { t.loop.Quit() }

// EventLoopThreadPool fans I/O work for a TcpServer out across a fixed
// number of EventLoopThreads, handing each new connection to the next
// loop in round-robin order. With zero threads, every operation is
// served by the base loop instead.
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	log      *zap.Logger
	opts     []Option

	mu      sync.Mutex
	started bool
	threads []*EventLoopThread
	loops   []*EventLoop
	next    int
}

// NewEventLoopThreadPool creates a pool bound to baseLoop, the loop that
// runs the TcpServer's Acceptor.
func NewEventLoopThreadPool(baseLoop *EventLoop, log *zap.Logger, opts ...Option) *EventLoopThreadPool {
	return &EventLoopThreadPool{baseLoop: baseLoop, log: log, opts: opts}
}

// Start spawns numThreads EventLoopThreads, running initCb on each new
// loop before it starts dispatching. Calling Start with numThreads == 0
// is valid and leaves the pool serving everything from baseLoop.
func (p *EventLoopThreadPool) Start(numThreads int, initCb func(*EventLoop)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true

	for i := 0; i < numThreads; i++ {
		t, err := NewEventLoopThread(initCb, p.opts...)
		if err != nil {
			return err
		}
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, t.Loop())
	}
	if numThreads == 0 && initCb != nil {
		initCb(p.baseLoop)
	}
	return nil
}

// GetNextLoop returns the next loop in round-robin order, or baseLoop if
// the pool has no threads of its own.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// GetLoopForHash deterministically maps hashCode to one of the pool's
// loops, useful for keeping related connections (e.g. by client IP) on
// the same loop.
func (p *EventLoopThreadPool) GetLoopForHash(hashCode int) *EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	if hashCode < 0 {
		hashCode = -hashCode
	}
	return p.loops[hashCode%len(p.loops)]
}

// GetAllLoops returns baseLoop followed by every pool loop. (Broadcast
// does not use it; it groups connections by each connection's own loop.)
func (p *EventLoopThreadPool) GetAllLoops() []*EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	all := make([]*EventLoop, 0, len(p.loops)+1)
	all = append(all, p.baseLoop)
	all = append(all, p.loops...)
	return all
}

// Stop quits every thread's loop.
func (p *EventLoopThreadPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.threads {
		t.Stop()
	}
}
