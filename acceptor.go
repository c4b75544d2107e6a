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
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Acceptor owns a listening socket and hands accepted connections to a
// NewConnectionCallback. It lives entirely on its TcpServer's base loop.
type Acceptor struct {
	loop *EventLoop
	log  *zap.Logger

	listenFd int
	idleFd   int
	channel  *channel
	listening bool

	NewConnectionCallback func(fd int, peer *net.TCPAddr)
}

// NewAcceptor opens a listening socket bound to addr. Connections are not
// accepted until Listen registers it with the loop.
func NewAcceptor(loop *EventLoop, addr string, reusePort bool, log *zap.Logger) (*Acceptor, net.Addr, error) {
	fd, resolved, err := listenSocket(addr, reusePort)
	if err != nil {
		return nil, nil, err
	}
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(fd)
		return nil, nil, err
	}

	a := &Acceptor{
		loop:     loop,
		log:      log,
		listenFd: fd,
		idleFd:   idleFd,
	}
	a.channel = newChannel(loop, fd)
	a.channel.readCallback = a.handleRead
	return a, resolved, nil
}

// Listen starts accepting connections. Must run on the acceptor's loop.
func (a *Acceptor) Listen() error {
	a.loop.assertInLoopThread()
	a.listening = true
	if err := unix.Listen(a.listenFd, unix.SOMAXCONN); err != nil {
		return err
	}
	a.channel.enableReading()
	return nil
}

// handleRead accepts exactly one connection per readable event, matching
// muduo's Acceptor::handleRead: level-triggered readiness means a second
// pending connection simply leaves the listening fd readable again for
// the next loop iteration, rather than being drained in a loop here.
func (a *Acceptor) handleRead(time.Time) {
	a.loop.assertInLoopThread()
	nfd, sa, err := unix.Accept(a.listenFd)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		if err == unix.EMFILE || err == unix.ENFILE {
			a.handleFileDescriptorExhaustion()
			return
		}
		a.log.Warn("accept failed", zap.Error(err))
		return
	}
	_ = unix.SetNonblock(nfd, true)
	if a.NewConnectionCallback != nil {
		a.NewConnectionCallback(nfd, sockaddrToTCPAddr(sa))
	} else {
		unix.Close(nfd)
	}
}

// handleFileDescriptorExhaustion reproduces Acceptor::handleRead's EMFILE
// dance in muduo: give up the always-open idle fd to accept (and
// immediately drop) the connection that would otherwise spin epoll at
// 100% CPU forever, then reclaim an idle fd for next time.
func (a *Acceptor) handleFileDescriptorExhaustion() {
	unix.Close(a.idleFd)
	fd, _, _ := unix.Accept(a.listenFd)
	if fd >= 0 {
		unix.Close(fd)
	}
	a.idleFd, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
}

// Close releases the listening and idle file descriptors.
func (a *Acceptor) Close() error {
	a.channel.disableAll()
	if a.channel.addedToLoop {
		a.channel.remove()
	}
	unix.Close(a.idleFd)
	return unix.Close(a.listenFd)
}
