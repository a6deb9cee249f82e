// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"strings"

	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/neowu/mysqlconn/pkg/sqlparse"
	"github.com/neowu/mysqlconn/pkg/types"
)

const (
	// SuccessNoInfo reports a row that succeeded as part of a rewritten group
	// whose individual counts are not recoverable from one round trip.
	SuccessNoInfo int64 = -2
	// ExecuteFailed marks a row whose execution failed or was aborted.
	ExecuteFailed int64 = -3
)

// maxBatchBytes caps the estimated size of one rewritten statement so a large
// batch never trips the packet limit.
const maxBatchBytes = 1 << 20

// BatchResult carries per-item outcomes of a batch execution.
type BatchResult struct {
	// Counts holds the affected-row count per item, or SuccessNoInfo /
	// ExecuteFailed.
	Counts []int64
	// InsertIDs holds the generated key per item when derivable: the server
	// reports only the first id of a multi-row insert, the rest follow at
	// auto_increment_increment steps.
	InsertIDs []uint64
}

// ExecuteBatch folds N parameter sets for one statement into as few round
// trips as the statement shape allows: multi-row VALUES rewriting when the
// text permits it, multi-statement concatenation otherwise, serial execution
// as the last resort. All parameter sets are encoded up front, so an encoding
// error aborts before any bytes are sent.
func (c *Conn) ExecuteBatch(sql string, batch [][]types.BindValue) (*BatchResult, error) {
	if len(batch) == 0 {
		return &BatchResult{}, nil
	}
	info, err := c.stmtCache.Get(sql)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(batch))
	for i, args := range batch {
		if rows[i], err = c.encoder.EncodeAll(args); err != nil {
			return nil, err
		}
	}

	result := &BatchResult{
		Counts:    make([]int64, len(batch)),
		InsertIDs: make([]uint64, len(batch)),
	}
	for i := range result.Counts {
		result.Counts[i] = ExecuteFailed
	}

	switch {
	case c.cfg.RewriteBatchedStatements && info.MultiValues && len(batch) > 1:
		err = c.executeMultiValues(info, rows, result)
	case c.cfg.RewriteBatchedStatements && info.NumParams() > 0 && len(batch) > 1:
		err = c.executeMultiStatements(info, rows, result)
	default:
		err = c.executeSerial(info, rows, result)
	}
	return result, err
}

// groupRows slices rows into execution groups bounded by the configured row
// count and the byte-size heuristic.
func (c *Conn) groupRows(rows [][]string) [][]int {
	var groups [][]int
	var group []int
	bytes := 0
	for i, row := range rows {
		size := 0
		for _, v := range row {
			size += len(v) + 1
		}
		if len(group) > 0 && (len(group) >= c.cfg.MaxBatchRows || bytes+size > maxBatchBytes) {
			groups = append(groups, group)
			group = nil
			bytes = 0
		}
		group = append(group, i)
		bytes += size
	}
	return append(groups, group)
}

func (c *Conn) executeMultiValues(info *sqlparse.QueryInfo, rows [][]string, result *BatchResult) error {
	var firstErr error
	for _, group := range c.groupRows(rows) {
		groupRows := make([][]string, 0, len(group))
		for _, idx := range group {
			groupRows = append(groupRows, rows[idx])
		}
		stmt, err := info.AssembleMultiValues(groupRows)
		if err != nil {
			return err
		}
		res, err := c.executeQuery(stmt, c.cfg.QueryTimeout)
		if err != nil && !(errors.Is(err, ErrDataTruncation) && res != nil) {
			if isBatchFatal(err) || !c.cfg.ContinueBatchOnError {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		// A multi-row group reports SUCCESS_NO_INFO per row: the aggregate
		// count cannot be attributed to individual rows. This holds even when
		// ON DUPLICATE KEY UPDATE no-ops made some rows match nothing.
		for i, idx := range group {
			if len(group) == 1 {
				result.Counts[idx] = int64(res.AffectedRows)
			} else {
				result.Counts[idx] = SuccessNoInfo
			}
			if res.InsertID > 0 && c.autoIncrementIncrement > 0 {
				result.InsertIDs[idx] = res.InsertID + uint64(i*c.autoIncrementIncrement)
			}
		}
	}
	return firstErr
}

func (c *Conn) executeMultiStatements(info *sqlparse.QueryInfo, rows [][]string, result *BatchResult) error {
	// The capability is enabled only for the duration of the batch.
	if err := c.SetOption(multiStatementsOn); err != nil {
		return err
	}
	defer func() {
		if err := c.SetOption(multiStatementsOff); err != nil {
			c.forceClose(err)
		}
	}()

	var firstErr error
	for _, group := range c.groupRows(rows) {
		stmts := make([]string, 0, len(group))
		for _, idx := range group {
			stmt, err := info.Assemble(rows[idx])
			if err != nil {
				return err
			}
			stmts = append(stmts, stmt)
		}
		res, err := c.executeQuery(strings.Join(stmts, ";"), c.cfg.QueryTimeout)
		truncated := errors.Is(err, ErrDataTruncation) && res != nil
		// map the result chain back onto the items in order
		delivered := 0
		for r := res; r != nil && delivered < len(group); r = r.NextResult {
			idx := group[delivered]
			result.Counts[idx] = int64(r.AffectedRows)
			result.InsertIDs[idx] = r.InsertID
			delivered++
		}
		if err != nil && !truncated {
			// the server stops at the first failing statement
			if isBatchFatal(err) || !c.cfg.ContinueBatchOnError {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Conn) executeSerial(info *sqlparse.QueryInfo, rows [][]string, result *BatchResult) error {
	var firstErr error
	for idx, row := range rows {
		stmt, err := info.Assemble(row)
		if err != nil {
			return err
		}
		res, err := c.executeQuery(stmt, c.cfg.QueryTimeout)
		if err != nil && !(errors.Is(err, ErrDataTruncation) && res != nil) {
			if isBatchFatal(err) || !c.cfg.ContinueBatchOnError {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Counts[idx] = int64(res.AffectedRows)
		result.InsertIDs[idx] = res.InsertID
	}
	return firstErr
}
