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

import "sync/atomic"

// Context is an opaque per-connection slot application code can use to
// stash arbitrary state (a session object, a protocol decoder, a reaper
// bucket entry) without this package needing to know its type. It
// replaces the tagged-union boost::any muduo's TcpConnection carries.
type Context struct {
	v atomic.Value
}

type contextBox struct{ val interface{} }

// Set stores val, replacing whatever was there before.
func (c *Context) Set(val interface{}) { c.v.Store(contextBox{val}) }

// Get returns the last value Set, or nil if none was ever stored.
func (c *Context) Get() interface{} {
	box, ok := c.v.Load().(contextBox)
	if !ok {
		return nil
	}
	return box.val
}
