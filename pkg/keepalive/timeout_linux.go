//go:build linux

// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package keepalive

import (
	"syscall"

	"github.com/neowu/mysqlconn/lib/config"
)

const _TCP_USER_TIMEOUT = 0x12

func setTimeout(fd uintptr, cfg config.KeepAlive) error {
	return syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, _TCP_USER_TIMEOUT, int(cfg.Timeout.Milliseconds()))
}
