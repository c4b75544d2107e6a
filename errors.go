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

import "errors"

var (
	// ErrLoopClosed names the error of using an EventLoop that has already
	// quit. No function in this package returns it.
	ErrLoopClosed = errors.New("reactor: event loop closed")

	// ErrNotInLoopThread names the error of using an EventLoop from a
	// goroutine other than its owner. assertInLoopThread does not use this
	// value: it panics through the loop logger's Panic with its own
	// message, so a recovered value does not match it with errors.Is.
	ErrNotInLoopThread = errors.New("reactor: called from outside the owning event loop goroutine")

	// ErrConnectionClosed is returned by TcpConnection.Send once the
	// connection has left the Connected state.
	ErrConnectionClosed = errors.New("reactor: connection is not connected")

	// ErrServerNotRunning names the error of using a TcpServer before
	// Start has completed. No function in this package returns it.
	ErrServerNotRunning = errors.New("reactor: server is not running")

	// ErrMessageTooLarge is returned by the length-field codec when an
	// outgoing payload exceeds the configured frame limit.
	ErrMessageTooLarge = errors.New("reactor: message exceeds maximum frame size")
)
