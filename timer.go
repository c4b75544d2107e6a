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

import "time"

// Timer is one scheduled callback, owned by the TimerQueue of the
// EventLoop it was registered on.
type Timer struct {
	expiration time.Time
	interval   time.Duration
	repeat     bool
	callback   func()
	sequence   int64
	heapIndex  int
}

// TimerId identifies a Timer for cancellation. It is comparable and safe
// to pass between goroutines; timerQueue.cancel looks the timer up by
// its sequence, on the owning loop's goroutine.
type TimerId struct {
	timer    *Timer
	sequence int64
}
