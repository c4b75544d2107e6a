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

// Package reap implements an idle-connection reaper: a fixed ring of
// buckets, one tick wide each, that shuts a connection down once it has
// gone a whole ring's worth of ticks without a message. It is the Go
// translation of muduo's bucket-based idle-connection example; the
// original relies on a connection Entry's shared_ptr refcount dropping to
// zero when the oldest bucket is discarded, which has no equivalent in a
// garbage-collected language, so this version tracks bucket membership by
// an explicit map entry instead.
package reap

import (
	"time"

	"github.com/govoltron/reactor"
)

// entry is the piece of state each tracked connection carries: which
// bucket it currently sits in, so refreshing it is a move rather than a
// second insertion.
type entry struct {
	conn      *reactor.TcpConnection
	bucketIdx int
}

// Reaper must be constructed once per EventLoop. Every method it exposes
// is meant to be called only from that loop's own goroutine -- typically
// from the ConnectionCallback and MessageCallback of a TcpServer or
// TcpClient running on that same loop. Sharing one Reaper across loops
// would reintroduce the cross-goroutine races this package exists to
// avoid.
type Reaper struct {
	loop    *reactor.EventLoop
	tick    time.Duration
	buckets []map[*entry]struct{}
	cursor  int
}

// New creates a Reaper that shuts down any connection idle for longer
// than roughly tick*numBuckets.
func New(loop *reactor.EventLoop, tick time.Duration, numBuckets int) *Reaper {
	if numBuckets < 1 {
		numBuckets = 1
	}
	r := &Reaper{
		loop:    loop,
		tick:    tick,
		buckets: make([]map[*entry]struct{}, numBuckets),
	}
	for i := range r.buckets {
		r.buckets[i] = make(map[*entry]struct{})
	}
	loop.RunEvery(tick, r.onTick)
	return r
}

// IdleTimeout returns the approximate idle duration a connection may sit
// without a message before being shut down.
func (r *Reaper) IdleTimeout() time.Duration { return r.tick * time.Duration(len(r.buckets)) }

// OnConnect must run from the ConnectionCallback of every TcpServer or
// TcpClient whose connections should be reaped; it stashes reaper state
// in the connection's Context.
func (r *Reaper) OnConnect(conn *reactor.TcpConnection) {
	if !conn.Connected() {
		return
	}
	e := &entry{conn: conn, bucketIdx: r.cursor}
	r.buckets[r.cursor][e] = struct{}{}
	conn.Context().Set(e)
}

// OnMessage must run from the MessageCallback of every reaped
// connection; it refreshes the connection's bucket membership so it
// survives the next eviction.
func (r *Reaper) OnMessage(conn *reactor.TcpConnection) {
	e, ok := conn.Context().Get().(*entry)
	if !ok || e.bucketIdx == r.cursor {
		return
	}
	delete(r.buckets[e.bucketIdx], e)
	e.bucketIdx = r.cursor
	r.buckets[r.cursor][e] = struct{}{}
}

func (r *Reaper) onTick() {
	r.cursor = (r.cursor + 1) % len(r.buckets)
	stale := r.buckets[r.cursor]
	r.buckets[r.cursor] = make(map[*entry]struct{})
	for e := range stale {
		if e.conn.Connected() {
			e.conn.Shutdown()
		}
	}
}
