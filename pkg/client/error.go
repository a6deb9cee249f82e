// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/neowu/mysqlconn/pkg/pnet"
)

var (
	// ErrConnectionFailure covers transport-level failures, including a failed
	// TLS negotiation. Establishment failures are never retried internally.
	ErrConnectionFailure = errors.New("connection failure")
	// ErrProtocolViolation covers bad sequence numbers, malformed packets and
	// unexpected packet types. It is fatal and forces the session closed.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrServer wraps a parsed error packet that fits no dedicated category.
	ErrServer = errors.New("server error")
	// ErrDataTruncation is raised when the server truncated data, either as a
	// dedicated error code or as a latched warning after a result chain.
	ErrDataTruncation = errors.New("data truncated")
	// ErrPasswordExpired is raised at handshake time unless the config permits
	// a sandboxed session.
	ErrPasswordExpired = errors.New("password expired")
	// ErrCanceledByTimeout reports that the query deadline fired and a kill was
	// issued from an auxiliary session.
	ErrCanceledByTimeout = errors.New("query canceled by timeout")
	// ErrCanceledByUser reports an explicit cancellation.
	ErrCanceledByUser = errors.New("query canceled by user")
	// ErrUnsupportedSQLMode is raised when the session's sql_mode breaks the
	// assumptions of value escaping or temporal formatting.
	ErrUnsupportedSQLMode = errors.New("unsupported sql_mode")
	// ErrConnClosed is returned when a command is issued on a closed session.
	ErrConnClosed = errors.New("connection is closed")
)

// categorizeServerError parses an error packet and attaches the matching
// category so callers can test with errors.Is.
func categorizeServerError(data []byte) error {
	err := pnet.ParseErrorPacket(data)
	myErr, ok := err.(*gomysql.MyError)
	if !ok {
		// a truncated or malformed error packet
		return errors.Wrap(ErrProtocolViolation, err)
	}
	switch myErr.Code {
	case gomysql.WARN_DATA_TRUNCATED, gomysql.ER_DATA_TOO_LONG:
		return errors.Wrap(ErrDataTruncation, err)
	case gomysql.ER_MUST_CHANGE_PASSWORD, gomysql.ER_MUST_CHANGE_PASSWORD_LOGIN:
		return errors.Wrap(ErrPasswordExpired, err)
	}
	return errors.Wrap(ErrServer, err)
}

// isBatchFatal reports whether a mid-batch server error must abort the batch
// regardless of the continue-on-error flag. The server has already rolled
// back, so executing the remaining items would silently lose the rollback.
func isBatchFatal(err error) bool {
	myErr := unwrapMyError(err)
	if myErr == nil {
		return false
	}
	switch myErr.Code {
	case gomysql.ER_LOCK_DEADLOCK, gomysql.ER_LOCK_WAIT_TIMEOUT, gomysql.ER_RECORD_FILE_FULL:
		return true
	}
	return false
}

// isQueryInterrupted matches the error the server delivers on the original
// connection after a KILL QUERY.
func isQueryInterrupted(err error) bool {
	myErr := unwrapMyError(err)
	return myErr != nil && myErr.Code == gomysql.ER_QUERY_INTERRUPTED
}

func unwrapMyError(err error) *gomysql.MyError {
	var myErr *gomysql.MyError
	if errors.As(err, &myErr) {
		return myErr
	}
	return nil
}
