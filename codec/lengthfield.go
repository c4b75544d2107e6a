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

// Package codec implements the length-field framing every reactor
// message-oriented protocol in this module speaks: a 4-byte big-endian
// length prefix followed by exactly that many payload bytes, the same
// scheme as muduo's codec examples (LengthHeaderCodec).
package codec

import (
	"fmt"
	"time"

	"github.com/govoltron/reactor"
)

// DefaultMaxFrameSize is the largest payload a Framer will accept before
// treating the stream as corrupt and invoking ErrorCallback.
const DefaultMaxFrameSize = 65536

const lengthFieldSize = 4

// Framer turns a reactor.MessageCallback's raw byte stream into whole
// frames. Wire a Framer's OnMessage in as a TcpServer's or TcpClient's
// MessageCallback and use Send to write length-prefixed frames back.
type Framer struct {
	maxFrameSize int

	// FrameCallback is invoked once per complete frame, with payload
	// already copied out of the connection's input buffer.
	FrameCallback func(conn *reactor.TcpConnection, payload []byte, when time.Time)

	// ErrorCallback is invoked if a peer claims a frame larger than
	// maxFrameSize; it defaults to shutting the connection down.
	ErrorCallback func(conn *reactor.TcpConnection, err error)
}

// NewFramer constructs a Framer with DefaultMaxFrameSize.
func NewFramer() *Framer {
	return &Framer{maxFrameSize: DefaultMaxFrameSize}
}

// SetMaxFrameSize overrides DefaultMaxFrameSize.
func (f *Framer) SetMaxFrameSize(n int) { f.maxFrameSize = n }

// OnMessage extracts as many complete frames as the buffer currently
// holds, invoking FrameCallback for each, and leaves any trailing partial
// frame buffered for the next read.
func (f *Framer) OnMessage(conn *reactor.TcpConnection, buf *reactor.Buffer, when time.Time) {
	for buf.ReadableBytes() >= lengthFieldSize {
		length := int(buf.PeekInt32())
		if length > f.maxFrameSize || length < 0 {
			err := fmt.Errorf("codec: frame length %d exceeds limit %d", length, f.maxFrameSize)
			if f.ErrorCallback != nil {
				f.ErrorCallback(conn, err)
			} else {
				conn.Shutdown()
			}
			return
		}
		if buf.ReadableBytes() < lengthFieldSize+length {
			return
		}
		buf.Retrieve(lengthFieldSize)
		payload := buf.RetrieveBytes(length)
		if f.FrameCallback != nil {
			f.FrameCallback(conn, payload, when)
		}
	}
}

// Encode returns payload as one length-prefixed frame, ready to write to
// a raw socket or hand to TcpServer.Broadcast. Returns
// reactor.ErrMessageTooLarge if payload exceeds the configured limit.
func (f *Framer) Encode(payload []byte) ([]byte, error) {
	if len(payload) > f.maxFrameSize {
		return nil, reactor.ErrMessageTooLarge
	}
	buf := reactor.NewBuffer()
	buf.Append(payload)
	buf.PrependInt32(uint32(len(payload)))
	return append([]byte(nil), buf.Peek()...), nil
}

// Send writes payload as one length-prefixed frame. It prepends the
// length header directly into the frame buffer's own head room and hands
// that buffer to conn, avoiding the extra payload copy Encode's standalone
// []byte return would force. Returns reactor.ErrMessageTooLarge without
// touching the connection if payload exceeds the configured frame limit.
func (f *Framer) Send(conn *reactor.TcpConnection, payload []byte) error {
	if len(payload) > f.maxFrameSize {
		return reactor.ErrMessageTooLarge
	}
	buf := reactor.NewBuffer()
	buf.Append(payload)
	buf.PrependInt32(uint32(len(payload)))
	return conn.SendBuffer(buf)
}
