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

import "testing"

func TestBufferAppendRetrieve(t *testing.T) {
	b := NewBuffer()
	if b.ReadableBytes() != 0 {
		t.Fatalf("new buffer should be empty, got %d readable", b.ReadableBytes())
	}
	if got := b.PrependableBytes(); got != cheapPrependSize {
		t.Fatalf("new buffer prependable = %d, want %d", got, cheapPrependSize)
	}

	b.AppendString("hello")
	if b.ReadableBytes() != 5 {
		t.Fatalf("readable = %d, want 5", b.ReadableBytes())
	}
	if got := b.RetrieveAsString(5); got != "hello" {
		t.Fatalf("retrieved %q, want %q", got, "hello")
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("readable after full retrieve = %d, want 0", b.ReadableBytes())
	}
}

func TestBufferRetrieveAllResetsToPrependBoundary(t *testing.T) {
	b := NewBuffer()
	b.AppendString("abcdef")
	b.Retrieve(3)
	b.RetrieveAll()
	if b.readerIndex != cheapPrependSize || b.writerIndex != cheapPrependSize {
		t.Fatalf("RetrieveAll left reader=%d writer=%d, want both %d", b.readerIndex, b.writerIndex, cheapPrependSize)
	}
}

func TestBufferPrependInt32RoundTrip(t *testing.T) {
	b := NewBuffer()
	b.AppendString("payload")
	b.PrependInt32(7)
	if b.ReadableBytes() != 4+7 {
		t.Fatalf("readable = %d, want 11", b.ReadableBytes())
	}
	if got := b.RetrieveInt32(); got != 7 {
		t.Fatalf("length prefix = %d, want 7", got)
	}
	if got := b.RetrieveAsString(7); got != "payload" {
		t.Fatalf("payload = %q, want %q", got, "payload")
	}
}

func TestBufferEnsureWritableBytesSlidesBeforeGrowing(t *testing.T) {
	b := NewBuffer()
	b.AppendString("short")
	b.Retrieve(3)

	origCap := len(b.buf)
	b.EnsureWritableBytes(origCap - cheapPrependSize - b.ReadableBytes())
	if len(b.buf) != origCap {
		t.Fatalf("EnsureWritableBytes grew the buffer when sliding should have sufficed: cap %d -> %d", origCap, len(b.buf))
	}
	if b.readerIndex != cheapPrependSize {
		t.Fatalf("after slide readerIndex = %d, want %d", b.readerIndex, cheapPrependSize)
	}
}

func TestBufferEnsureWritableBytesGrowsWhenNecessary(t *testing.T) {
	b := NewBuffer()
	b.AppendString("some readable bytes that must be preserved")
	origCap := len(b.buf)
	b.EnsureWritableBytes(origCap * 2)
	if len(b.buf) <= origCap {
		t.Fatalf("buffer did not grow: cap %d -> %d", origCap, len(b.buf))
	}
	if got := b.RetrieveAllAsString(); got != "some readable bytes that must be preserved" {
		t.Fatalf("readable content corrupted by grow: %q", got)
	}
}

func TestBufferRetrieveBytesDoesNotAliasStorage(t *testing.T) {
	b := NewBuffer()
	b.AppendString("alias-me")
	got := b.RetrieveBytes(8)
	b.AppendString("clobber!")
	if string(got) != "alias-me" {
		t.Fatalf("RetrieveBytes result mutated by later Append: %q", got)
	}
}

func TestBufferFindCRLF(t *testing.T) {
	b := NewBuffer()
	b.AppendString("GET / HTTP/1.1\r\nHost: x\r\n")
	idx := b.FindCRLF()
	if idx != 14 {
		t.Fatalf("FindCRLF = %d, want 14", idx)
	}
}

func TestBufferFindCRLFAbsent(t *testing.T) {
	b := NewBuffer()
	b.AppendString("no newline here")
	if idx := b.FindCRLF(); idx != -1 {
		t.Fatalf("FindCRLF = %d, want -1", idx)
	}
}
