// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package pnet

import (
	"context"
	"io"
	"os"
	"syscall"

	"github.com/neowu/mysqlconn/lib/util/errors"
)

var (
	ErrReadConn        = errors.New("failed to read the connection")
	ErrWriteConn       = errors.New("failed to write the connection")
	ErrFlushConn       = errors.New("failed to flush the connection")
	ErrCloseConn       = errors.New("failed to close the connection")
	ErrHandshakeTLS    = errors.New("failed to complete tls handshake")
	ErrInvalidSequence = errors.New("invalid sequence")
	// ErrPacketTooBig is reported before writing a payload that exceeds the
	// negotiated max_allowed_packet; the connection stays usable.
	ErrPacketTooBig = errors.New("packet for query is too large")
)

// IsDisconnectError returns whether the error is caused by peer disconnection.
func IsDisconnectError(err error) bool {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
