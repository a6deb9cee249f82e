//go:build !(linux || netbsd || freebsd || dragonfly || aix || darwin)

// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package keepalive

import (
	"github.com/neowu/mysqlconn/lib/config"
)

func setKeepalive(fd uintptr, cfg config.KeepAlive) error {
	return nil
}
