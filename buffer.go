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
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"
)

const (
	// cheapPrependSize reserves room at the front of every Buffer so a
	// length prefix can be stitched on without copying the payload.
	cheapPrependSize = 8
	initialBufferSize = 1024
)

// Buffer is a growable byte buffer split into three regions:
// [0, readerIndex) prependable, [readerIndex, writerIndex) readable and
// [writerIndex, len(buf)) writable. It is not safe for concurrent use; a
// Buffer is owned by a single TcpConnection, itself owned by a single
// EventLoop.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

// NewBuffer returns an empty Buffer with the standard 8-byte cheap-prepend
// region and a 1KiB initial capacity.
func NewBuffer() *Buffer {
	b := &Buffer{
		buf: make([]byte, cheapPrependSize+initialBufferSize),
	}
	b.readerIndex = cheapPrependSize
	b.writerIndex = cheapPrependSize
	return b
}

// ReadableBytes returns the number of bytes available to read.
func (b *Buffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }

// WritableBytes returns the number of bytes that can be appended without
// growing the underlying slice.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writerIndex }

// PrependableBytes returns the number of bytes available before the
// readable region, for in-place header prepending.
func (b *Buffer) PrependableBytes() int { return b.readerIndex }

// Peek returns the readable region without consuming it. The returned
// slice aliases the Buffer's storage and is invalidated by the next
// mutating call.
func (b *Buffer) Peek() []byte { return b.buf[b.readerIndex:b.writerIndex] }

// Retrieve consumes n bytes from the front of the readable region.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readerIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll consumes the entire readable region, resetting both indices
// to the cheap-prepend boundary so the prependable region is restored.
func (b *Buffer) RetrieveAll() {
	b.readerIndex = cheapPrependSize
	b.writerIndex = cheapPrependSize
}

// RetrieveAsString consumes and returns the first n readable bytes.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.buf[b.readerIndex : b.readerIndex+n])
	b.Retrieve(n)
	return s
}

// RetrieveBytes consumes and returns a copy of the first n readable
// bytes. The returned slice does not alias the Buffer's storage.
func (b *Buffer) RetrieveBytes(n int) []byte {
	out := make([]byte, n)
	copy(out, b.buf[b.readerIndex:b.readerIndex+n])
	b.Retrieve(n)
	return out
}

// RetrieveAllAsString consumes and returns the entire readable region.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// Append copies data onto the end of the readable region, growing the
// buffer first if necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritableBytes(len(data))
	b.writerIndex += copy(b.buf[b.writerIndex:], data)
}

// AppendString is Append for a string, avoiding a caller-side conversion.
func (b *Buffer) AppendString(s string) { b.Append([]byte(s)) }

// EnsureWritableBytes grows or compacts the buffer so that at least n
// bytes are writable without moving the readable region's contents more
// than once.
func (b *Buffer) EnsureWritableBytes(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.WritableBytes()+b.PrependableBytes()-cheapPrependSize >= n {
		// Slide the readable region down to the cheap-prepend boundary
		// instead of growing the slice.
		readable := b.ReadableBytes()
		copy(b.buf[cheapPrependSize:], b.buf[b.readerIndex:b.writerIndex])
		b.readerIndex = cheapPrependSize
		b.writerIndex = cheapPrependSize + readable
		return
	}
	grown := make([]byte, b.writerIndex+n)
	copy(grown, b.buf)
	b.buf = grown
}

// Prepend writes data immediately before the readable region, without
// disturbing bytes already written there. Callers must not Prepend more
// than PrependableBytes(); doing so panics, mirroring a slice
// out-of-bounds write rather than silently corrupting data.
func (b *Buffer) Prepend(data []byte) {
	b.readerIndex -= len(data)
	copy(b.buf[b.readerIndex:], data)
}

// PrependInt32 prepends a big-endian uint32, the wire format used by the
// length-field codec for frame sizes.
func (b *Buffer) PrependInt32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Prepend(tmp[:])
}

// PeekInt32 reads (without consuming) the first four readable bytes as a
// big-endian uint32.
func (b *Buffer) PeekInt32() uint32 {
	return binary.BigEndian.Uint32(b.buf[b.readerIndex:])
}

// RetrieveInt32 consumes and returns the first four readable bytes as a
// big-endian uint32.
func (b *Buffer) RetrieveInt32() uint32 {
	v := b.PeekInt32()
	b.Retrieve(4)
	return v
}

// FindCRLF returns the index within the readable region of the first
// "\r\n", or -1 if absent.
func (b *Buffer) FindCRLF() int {
	idx := bytes.Index(b.buf[b.readerIndex:b.writerIndex], []byte("\r\n"))
	return idx
}

// extraBufSize is the stack scratch space used by ReadFd's scatter read,
// sized to swallow a single read(2) worth of data without growing the
// Buffer on the common case of a small message arriving in a large
// buffer's leftover capacity.
const extraBufSize = 65536

// ReadFd performs a single readv(2) into the buffer's writable tail and a
// stack-allocated scratch region, so that one call can take in up to
// extraBufSize bytes beyond the writable tail without growing the Buffer
// beforehand; whatever lands in the scratch region is then appended,
// which grows the Buffer as needed. It returns the number of bytes read and the raw errno from the read, so
// callers can distinguish EAGAIN from a hard error.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extraBuf [extraBufSize]byte

	writable := b.WritableBytes()
	iovs := [][]byte{b.buf[b.writerIndex:len(b.buf)]}
	if writable < len(extraBuf) {
		iovs = append(iovs, extraBuf[:])
	}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex = len(b.buf)
		b.Append(extraBuf[:n-writable])
	}
	return n, nil
}
