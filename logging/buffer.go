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

// Package logging wraps zap with an asynchronous, double-buffered sink
// modeled on muduo's AsyncLogging: log calls never block on disk I/O, a
// background goroutine periodically flushes whatever accumulated, and a
// backlog past a fixed number of buffers is dropped rather than allowed
// to grow without bound.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	flushInterval = 3 * time.Second
	// maxQueuedBuffers bounds memory if the writer behind the sink falls
	// behind; past this many queued buffers new log lines are dropped and
	// counted instead of buffered, matching AsyncLogging's "Dropped log
	// messages" behavior.
	maxQueuedBuffers = 25
	bufferCapacity   = 4 << 20 // 4MiB, same as muduo's kLargeBuffer
)

// doubleBufferSink is a zapcore.WriteSyncer that hands log bytes off to a
// background writer goroutine instead of writing inline.
type doubleBufferSink struct {
	out zapcore.WriteSyncer

	mu      sync.Mutex
	current []byte

	full chan []byte
	done chan struct{}

	dropped uint64
}

func newDoubleBufferSink(out zapcore.WriteSyncer) *doubleBufferSink {
	s := &doubleBufferSink{
		out:     out,
		current: make([]byte, 0, bufferCapacity),
		full:    make(chan []byte, maxQueuedBuffers),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

// Write appends p to the current buffer, swapping it onto the flush
// channel if it is full. It never blocks on I/O.
func (s *doubleBufferSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.current)+len(p) > bufferCapacity && len(s.current) > 0 {
		s.swapLocked()
	}
	s.current = append(s.current, p...)
	return len(p), nil
}

func (s *doubleBufferSink) swapLocked() {
	full := s.current
	select {
	case s.full <- full:
	default:
		s.dropped++
	}
	s.current = make([]byte, 0, bufferCapacity)
}

// Sync hands the current buffer to the background writer goroutine (or
// drops and counts it if the queue is full) and then syncs the underlying
// writer. It does not wait for the handed-off bytes to be written.
func (s *doubleBufferSink) Sync() error {
	s.mu.Lock()
	if len(s.current) > 0 {
		s.swapLocked()
	}
	s.mu.Unlock()
	return s.out.Sync()
}

func (s *doubleBufferSink) loop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case buf := <-s.full:
			s.write(buf)
		case <-ticker.C:
			s.mu.Lock()
			if len(s.current) > 0 {
				s.swapLocked()
			}
			s.mu.Unlock()
			s.drainNonBlocking()
		case <-s.done:
			s.drainNonBlocking()
			return
		}
	}
}

func (s *doubleBufferSink) drainNonBlocking() {
	for {
		select {
		case buf := <-s.full:
			s.write(buf)
		default:
			return
		}
	}
}

func (s *doubleBufferSink) write(buf []byte) {
	if len(buf) == 0 {
		return
	}
	_, _ = s.out.Write(buf)
}

// Close flushes any buffered output and stops the background goroutine.
func (s *doubleBufferSink) Close() error {
	_ = s.Sync()
	close(s.done)
	return nil
}
