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

//go:build !windows

package reactor

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenSocket opens a non-blocking, independently-owned listening fd for
// addr. It leans on net.ListenConfig.Control to set SO_REUSEADDR (always)
// and SO_REUSEPORT (if reusePort) before bind(2), which the net package
// otherwise gives no way to do, then dup(2)s the resulting fd so this
// package -- not the Go runtime's own netpoller -- owns it exclusively.
func listenSocket(addr string, reusePort bool) (fd int, resolved *net.TCPAddr, err error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(rawFd uintptr) {
				if ctrlErr = unix.SetsockoptInt(int(rawFd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); ctrlErr != nil {
					return
				}
				if reusePort {
					ctrlErr = unix.SetsockoptInt(int(rawFd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return -1, nil, err
	}
	tcpLn := ln.(*net.TCPListener)
	resolved = tcpLn.Addr().(*net.TCPAddr)

	file, err := tcpLn.File()
	if err != nil {
		tcpLn.Close()
		return -1, nil, err
	}
	fd, err = dupNonblockingFd(file)
	file.Close()
	tcpLn.Close()
	if err != nil {
		return -1, nil, err
	}
	return fd, resolved, nil
}

// dupNonblockingFd duplicates f's descriptor and puts the duplicate into
// non-blocking mode, so closing f (and letting its finalizer run) has no
// effect on the fd the caller keeps.
func dupNonblockingFd(f *os.File) (int, error) {
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// connectSocket begins a non-blocking connect(2) to addr, returning
// immediately with EINPROGRESS; the caller watches the fd for writability
// and checks SO_ERROR to learn the outcome.
func connectSocket(addr string) (fd int, resolved *net.TCPAddr, inProgress bool, err error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, nil, false, err
	}

	family := unix.AF_INET
	if tcpAddr.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err = unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, false, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, false, err
	}

	sa, err := tcpAddrToSockaddr(tcpAddr)
	if err != nil {
		unix.Close(fd)
		return -1, nil, false, err
	}

	err = unix.Connect(fd, sa)
	if err == nil {
		return fd, tcpAddr, false, nil
	}
	if err == unix.EINPROGRESS {
		return fd, tcpAddr, true, nil
	}
	unix.Close(fd)
	return -1, nil, false, err
}

func tcpAddrToSockaddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, fmt.Errorf("reactor: invalid IP %q", addr.IP)
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], ip16)
	return &sa, nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, s.Addr[:])
		return &net.TCPAddr{IP: ip, Port: s.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, s.Addr[:])
		return &net.TCPAddr{IP: ip, Port: s.Port}
	default:
		return &net.TCPAddr{}
	}
}

func localAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return &net.TCPAddr{}
	}
	return sockaddrToTCPAddr(sa)
}

func peerAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return &net.TCPAddr{}
	}
	return sockaddrToTCPAddr(sa)
}

func setTCPNoDelay(fd int, v bool) error {
	n := 0
	if v {
		n = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, n)
}

func setKeepAlive(fd int, v bool) error {
	n := 0
	if v {
		n = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, n)
}

// socketError returns the pending SO_ERROR on fd, the standard way to
// learn whether a non-blocking connect(2) that just became writable
// succeeded or failed.
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}
