// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/neowu/mysqlconn/pkg/pnet"
	"github.com/siddontang/go/hack"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// cancelGracePeriod pads the socket read timeout beyond the query deadline so
// the kill's error packet, rather than a read timeout, normally ends the wait.
const cancelGracePeriod = 3 * time.Second

type cancelOutcome int32

const (
	cancelOutcomePending cancelOutcome = iota
	// cancelOutcomeDelivered means the result was delivered normally.
	cancelOutcomeDelivered
	cancelOutcomeTimeout
	cancelOutcomeUser
)

// cancelTask serializes "cancel fired" against "result arrived" through a
// single atomic state cell. The first transition out of pending wins, so
// exactly one of {normal result, cancellation} is ever reported to the
// caller - never both, never neither.
type cancelTask struct {
	conn  *Conn
	state atomic.Int32
	timer *time.Timer
}

func (c *Conn) startCancelTask(timeout time.Duration) *cancelTask {
	task := &cancelTask{conn: c}
	task.timer = time.AfterFunc(timeout, func() {
		task.fire(cancelOutcomeTimeout)
	})
	return task
}

// Cancel kills the running query on user demand, following the same
// auxiliary-session protocol as a timeout.
func (t *cancelTask) Cancel() {
	t.fire(cancelOutcomeUser)
}

func (t *cancelTask) fire(outcome cancelOutcome) {
	if !t.state.CompareAndSwap(int32(cancelOutcomePending), int32(outcome)) {
		return
	}
	c := t.conn
	// The kill runs on its own goroutine so a slow auxiliary connect cannot
	// hang the timer subsystem.
	c.wg.RunWithRecover(func() {
		c.killQuery()
	}, nil, c.logger)
}

// finish stops the timer and resolves the outcome. A pending task resolves to
// delivered; a fired task keeps its cancellation outcome even when the result
// arrived in the race window.
func (t *cancelTask) finish() cancelOutcome {
	t.timer.Stop()
	if t.state.CompareAndSwap(int32(cancelOutcomePending), int32(cancelOutcomeDelivered)) {
		return cancelOutcomeDelivered
	}
	return cancelOutcome(t.state.Load())
}

// killQuery opens a fresh authenticated session for the sole purpose of
// issuing KILL QUERY against the original connection id. MySQL has no in-band
// cancel, so a second handshake is unavoidable. All errors here are
// best-effort cleanup and are discarded after logging.
func (c *Conn) killQuery() {
	cfg := c.cfg.Clone()
	cfg.Compression = ""
	cfg.Database = ""
	cfg.QueryTimeout = 0
	cfg.SessionVariables = ""

	var opts []Option
	if c.tokenProvider != nil {
		// the token may have expired since the original connect
		opts = append(opts, WithTokenProvider(c.tokenProvider))
	}
	aux := NewConn(cfg, c.logger.Named("cancel"), opts...)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := aux.Connect(ctx); err != nil {
		c.logger.Warn("failed to connect the auxiliary kill session", zap.Error(err))
		return
	}
	defer func() {
		if err := aux.Close(); err != nil {
			c.logger.Debug("failed to close the auxiliary kill session", zap.Error(err))
		}
	}()

	kill := fmt.Sprintf("KILL QUERY %d", c.connID)
	if _, err := aux.sendCommand(makeCommand(pnet.ComQuery, hack.Slice(kill)), false, 0); err != nil {
		c.logger.Warn("failed to kill the running query", zap.Uint32("conn_id", c.connID), zap.Error(err))
	}
}
