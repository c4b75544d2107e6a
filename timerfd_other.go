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

//go:build !linux

package reactor

import "time"

// softTimerSource backs platforms without timerfd. It keeps no fd at all;
// the EventLoop instead bounds its poll(2) timeout by timerQueue's
// earliest deadline and unconditionally checks for expired timers after
// every wakeup, so a timer still fires within one poll timeout slice of
// its due time.
type softTimerSource struct{}

func newTimerSource(loop *EventLoop, tq *timerQueue) timerSource { return softTimerSource{} }

func (softTimerSource) channel() *channel { return nil }
func (softTimerSource) arm(time.Duration) {}
func (softTimerSource) drainReady()       {}
func (softTimerSource) close() error      { return nil }
