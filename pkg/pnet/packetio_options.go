// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package pnet

import (
	"net"
)

type PacketIOption = func(*PacketIO)

func WithWrapError(err error) func(pi *PacketIO) {
	return func(pi *PacketIO) {
		pi.wrap = err
	}
}

type originAddr struct {
	net.Addr
	addr string
}

func (o *originAddr) Unwrap() net.Addr {
	return o.Addr
}

func (o *originAddr) String() string {
	return o.addr
}

// WithRemoteAddr records the configured address, which may differ from the
// address of the underlying connection when dialing through a proxy.
func WithRemoteAddr(readdr string, addr net.Addr) func(pi *PacketIO) {
	return func(pi *PacketIO) {
		pi.remoteAddr = &originAddr{Addr: addr, addr: readdr}
	}
}
