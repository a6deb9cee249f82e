//go:build !linux

// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package keepalive

import (
	"github.com/neowu/mysqlconn/lib/config"
)

func setTimeout(fd uintptr, cfg config.KeepAlive) error {
	return nil
}
