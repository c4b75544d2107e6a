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
	"time"

	"go.uber.org/zap"
)

// ConnectionCallback is invoked once when a TcpConnection becomes
// connected and again when it becomes disconnected. Inspect
// conn.Connected() to tell the two apart.
type ConnectionCallback func(conn *TcpConnection)

// MessageCallback is invoked whenever bytes arrive on a connection. buf
// is the connection's whole input Buffer; the callback decides how much
// of it constitutes a complete message and retrieves only that much.
type MessageCallback func(conn *TcpConnection, buf *Buffer, when time.Time)

// WriteCompleteCallback is invoked once a connection's output buffer has
// been fully drained to the kernel, the signal a throttled producer waits
// on before writing more.
type WriteCompleteCallback func(conn *TcpConnection)

// HighWaterMarkCallback is invoked when a connection's output buffer
// backlog crosses the configured high-water mark.
type HighWaterMarkCallback func(conn *TcpConnection, backlog int)

// CloseCallback is for TcpServer/TcpClient's internal bookkeeping
// (removing the connection from their maps); application code should use
// ConnectionCallback instead.
type CloseCallback func(conn *TcpConnection)

func defaultConnectionCallback(conn *TcpConnection) {
	conn.log.Debug("connection state changed",
		zap.String("name", conn.Name()),
		zap.Bool("connected", conn.Connected()))
}

func defaultMessageCallback(conn *TcpConnection, buf *Buffer, when time.Time) {
	conn.log.Debug("discarding message, no MessageCallback set",
		zap.Int("bytes", buf.ReadableBytes()))
	buf.RetrieveAll()
}
