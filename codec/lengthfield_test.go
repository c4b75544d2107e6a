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

package codec_test

import (
	"testing"
	"time"

	"github.com/govoltron/reactor"
	"github.com/govoltron/reactor/codec"
)

func TestFramerDeliversWholeFrameAndKeepsPartialBuffered(t *testing.T) {
	f := codec.NewFramer()
	var got []string
	f.FrameCallback = func(_ *reactor.TcpConnection, payload []byte, _ time.Time) {
		got = append(got, string(payload))
	}

	buf := reactor.NewBuffer()

	frame, err := f.Encode([]byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	partial, err := f.Encode([]byte("world"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	buf.Append(frame)
	buf.Append(partial[:len(partial)-2]) // leave the last frame incomplete

	f.OnMessage(nil, buf, time.Now())

	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("frames delivered = %v, want [\"hello\"]", got)
	}
	if buf.ReadableBytes() == 0 {
		t.Fatal("partial frame should remain buffered, not be consumed")
	}

	buf.Append(partial[len(partial)-2:])
	f.OnMessage(nil, buf, time.Now())
	if len(got) != 2 || got[1] != "world" {
		t.Fatalf("frames delivered after completing partial = %v, want [\"hello\" \"world\"]", got)
	}
	if buf.ReadableBytes() != 0 {
		t.Fatalf("buffer should be fully drained, %d bytes remain", buf.ReadableBytes())
	}
}

func TestFramerInvokesErrorCallbackOnOversizedLength(t *testing.T) {
	f := codec.NewFramer()
	f.SetMaxFrameSize(8)
	var gotErr error
	f.ErrorCallback = func(_ *reactor.TcpConnection, err error) { gotErr = err }
	f.FrameCallback = func(*reactor.TcpConnection, []byte, time.Time) {
		t.Fatal("FrameCallback should not run for an oversized frame")
	}

	buf := reactor.NewBuffer()
	buf.AppendString("prefix-too-big")
	buf.PrependInt32(1000)

	f.OnMessage(nil, buf, time.Now())
	if gotErr == nil {
		t.Fatal("expected ErrorCallback to run for a frame exceeding the configured limit")
	}
}

func TestFramerEncodeRejectsOversizedPayload(t *testing.T) {
	f := codec.NewFramer()
	f.SetMaxFrameSize(4)
	if _, err := f.Encode([]byte("toolong")); err != reactor.ErrMessageTooLarge {
		t.Fatalf("Encode error = %v, want %v", err, reactor.ErrMessageTooLarge)
	}
}
