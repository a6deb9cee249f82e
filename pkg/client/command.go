// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/binary"
	"time"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/neowu/mysqlconn/pkg/pnet"
	"github.com/neowu/mysqlconn/pkg/types"
	"github.com/siddontang/go/hack"
)

// Result is the decoded response of one statement. Multi-statement and
// multi-result commands chain further results through NextResult.
type Result struct {
	AffectedRows uint64
	InsertID     uint64
	Status       uint16
	Warnings     uint16
	Columns      []*pnet.ColumnDef
	// Rows holds raw text-protocol values; nil denotes SQL NULL. Use the
	// Decoder to materialize typed values.
	Rows       [][][]byte
	NextResult *Result
}

func (r *Result) HasResultSet() bool {
	return len(r.Columns) > 0
}

// Decoder returns the typed-value decoder bound to the session time zone.
func (c *Conn) Decoder() *types.Decoder {
	return c.decoder
}

func makeCommand(cmd pnet.Command, payload []byte) []byte {
	data := make([]byte, 0, 1+len(payload))
	data = append(data, cmd.Byte())
	return append(data, payload...)
}

func (c *Conn) writeCommand(cmd pnet.Command, payload []byte) error {
	c.pkt.ResetSequence()
	return c.pkt.WritePacket(makeCommand(cmd, payload), true)
}

// sendCommand is the single entry point of the command engine. It resets the
// sequence counter, clears the warning latch, optionally overrides the read
// timeout for the duration of the call, writes the request, and decodes the
// full response chain. skipErrorCheck suppresses response reading entirely,
// which is what fire-and-forget commands like QUIT need.
func (c *Conn) sendCommand(payload []byte, skipErrorCheck bool, timeout time.Duration) (*Result, error) {
	if c.closed.Load() {
		return nil, errors.WithStack(ErrConnClosed)
	}
	c.pkt.ResetSequence()
	c.warnings = 0
	if timeout > 0 {
		c.pkt.SetReadTimeout(timeout)
		defer c.pkt.SetReadTimeout(c.cfg.ReadTimeout)
	}
	if err := c.pkt.WritePacket(payload, true); err != nil {
		if errors.Is(err, pnet.ErrPacketTooBig) {
			// nothing was sent, the session is still usable
			return nil, err
		}
		c.forceClose(err)
		return nil, err
	}
	if skipErrorCheck {
		return nil, nil
	}
	res, err := c.readAllResults()
	if err != nil && (errors.Is(err, ErrProtocolViolation) || pnet.IsDisconnectError(err)) {
		c.forceClose(err)
	}
	return res, err
}

// readAllResults decodes the first result and chains subsequent ones while
// the server reports more results pending. When warnings were latched along
// the chain, the assembled result is returned together with a data-truncation
// diagnostic; the caller chooses whether to surface or ignore it.
func (c *Conn) readAllResults() (*Result, error) {
	first, err := c.readResult()
	if err != nil {
		return nil, err
	}
	last := first
	for last.Status&gomysql.SERVER_MORE_RESULTS_EXISTS != 0 {
		next, err := c.readResult()
		if err != nil {
			return first, err
		}
		last.NextResult = next
		last = next
	}
	if c.warnings > 0 {
		return first, errors.Wrapf(ErrDataTruncation, "server reported %d warnings", c.warnings)
	}
	return first, nil
}

func (c *Conn) readResult() (*Result, error) {
	data, err := c.readResponsePacket()
	if err != nil {
		return nil, err
	}
	switch {
	case pnet.IsErrorPacket(data):
		return nil, categorizeServerError(data)
	case pnet.IsOKPacket(data):
		return c.captureOK(data), nil
	case pnet.IsEOFPacket(data):
		// stateless commands like SET_OPTION may answer with a bare EOF
		res := &Result{}
		if len(data) >= 5 {
			res.Status, res.Warnings = pnet.ParseEOFPacket(data)
			c.status = res.Status
			c.warnings += res.Warnings
		}
		return res, nil
	case pnet.Header(data[0]) == pnet.LocalInFileHeader:
		// Decline the local-infile transfer with an empty packet; the server
		// answers with its final verdict.
		if err := c.pkt.WritePacket(nil, true); err != nil {
			return nil, err
		}
		return c.readResult()
	}
	return c.readResultSet(data)
}

func (c *Conn) readResultSet(data []byte) (*Result, error) {
	columnCount, _, _ := pnet.ParseLengthEncodedInt(data)
	res := &Result{Columns: make([]*pnet.ColumnDef, 0, columnCount)}
	for i := uint64(0); i < columnCount; i++ {
		pkt, err := c.readResponsePacket()
		if err != nil {
			return nil, err
		}
		def, err := pnet.ParseColumnDef(pkt)
		if err != nil {
			return nil, errors.Wrap(ErrProtocolViolation, err)
		}
		res.Columns = append(res.Columns, def)
	}
	if c.capability&pnet.ClientDeprecateEOF == 0 {
		pkt, err := c.readResponsePacket()
		if err != nil {
			return nil, err
		}
		if !pnet.IsEOFPacket(pkt) {
			return nil, errors.Wrapf(ErrProtocolViolation, "expected EOF after column definitions, got %#x", pkt[0])
		}
	}
	for {
		pkt, err := c.readResponsePacket()
		if err != nil {
			return nil, err
		}
		switch {
		case pnet.IsErrorPacket(pkt):
			// the server may fail while streaming rows
			return nil, categorizeServerError(pkt)
		case c.capability&pnet.ClientDeprecateEOF == 0 && pnet.IsEOFPacket(pkt):
			status, warnings := pnet.ParseEOFPacket(pkt)
			c.status = status
			c.warnings += warnings
			res.Status = status
			res.Warnings = warnings
			return res, nil
		case c.capability&pnet.ClientDeprecateEOF != 0 && pnet.IsResultSetOKPacket(pkt):
			ok := pnet.ParseOKPacket(pkt, c.capability)
			c.status = ok.Status
			c.warnings += ok.Warnings
			res.Status = ok.Status
			res.Warnings = ok.Warnings
			return res, nil
		}
		row, err := pnet.ParseTextRow(pkt, len(res.Columns))
		if err != nil {
			return nil, errors.Wrap(ErrProtocolViolation, err)
		}
		res.Rows = append(res.Rows, row)
	}
}

func (c *Conn) captureOK(data []byte) *Result {
	ok := pnet.ParseOKPacket(data, c.capability)
	c.status = ok.Status
	c.warnings += ok.Warnings
	return &Result{
		AffectedRows: ok.AffectedRows,
		InsertID:     ok.InsertId,
		Status:       ok.Status,
		Warnings:     ok.Warnings,
	}
}

func (c *Conn) readResponsePacket() ([]byte, error) {
	data, err := c.pkt.ReadPacket()
	if err != nil {
		if errors.Is(err, pnet.ErrInvalidSequence) {
			return nil, errors.Wrap(ErrProtocolViolation, err)
		}
		return nil, errors.Wrap(ErrConnectionFailure, err)
	}
	if len(data) == 0 {
		return nil, errors.Wrapf(ErrProtocolViolation, "empty response packet")
	}
	return data, nil
}

// Query executes one statement, binding args into the text protocol. The
// query timeout from the config applies; on expiry the statement is killed
// from an auxiliary session and ErrCanceledByTimeout is returned.
func (c *Conn) Query(sql string, args ...types.BindValue) (*Result, error) {
	return c.QueryWithTimeout(sql, c.cfg.QueryTimeout, args...)
}

func (c *Conn) QueryWithTimeout(sql string, timeout time.Duration, args ...types.BindValue) (*Result, error) {
	stmt, err := c.assemble(sql, args)
	if err != nil {
		return nil, err
	}
	return c.executeQuery(stmt, timeout)
}

func (c *Conn) assemble(sql string, args []types.BindValue) (string, error) {
	if len(args) == 0 {
		return sql, nil
	}
	info, err := c.stmtCache.Get(sql)
	if err != nil {
		return "", err
	}
	params, err := c.encoder.EncodeAll(args)
	if err != nil {
		return "", err
	}
	return info.Assemble(params)
}

func (c *Conn) executeQuery(stmt string, timeout time.Duration) (*Result, error) {
	payload := makeCommand(pnet.ComQuery, hack.Slice(stmt))
	if timeout <= 0 {
		return c.sendCommand(payload, false, 0)
	}

	task := c.startCancelTask(timeout)
	// Pad the read timeout so the kill's error packet, not a socket timeout,
	// normally ends the wait.
	res, err := c.sendCommand(payload, false, timeout+cancelGracePeriod)
	outcome := task.finish()
	if outcome == cancelOutcomeDelivered {
		return res, err
	}
	// A successful kill surfaces as a query-interrupted server error and
	// leaves the stream consistent. Anything else (e.g. a read timeout)
	// leaves the session desynchronized and forces it closed.
	if err != nil && !isQueryInterrupted(err) && unwrapMyError(err) == nil {
		c.forceClose(err)
	}
	if outcome == cancelOutcomeTimeout {
		return nil, errors.Wrapf(ErrCanceledByTimeout, "query exceeded %s", timeout)
	}
	return nil, errors.WithStack(ErrCanceledByUser)
}

// Ping checks that the server is alive.
func (c *Conn) Ping() error {
	_, err := c.sendCommand(makeCommand(pnet.ComPing, nil), false, c.cfg.ReadTimeout)
	return err
}

// InitDB switches the default database.
func (c *Conn) InitDB(db string) error {
	_, err := c.sendCommand(makeCommand(pnet.ComInitDB, hack.Slice(db)), false, 0)
	return err
}

// ResetConnection resets the session state without re-authenticating.
func (c *Conn) ResetConnection() error {
	_, err := c.sendCommand(makeCommand(pnet.ComResetConnection, nil), false, 0)
	return err
}

const (
	multiStatementsOn  uint16 = 0
	multiStatementsOff uint16 = 1
)

// SetOption toggles server options, e.g. multi-statement support.
func (c *Conn) SetOption(value uint16) error {
	var payload [2]byte
	binary.LittleEndian.PutUint16(payload[:], value)
	_, err := c.sendCommand(makeCommand(pnet.ComSetOption, payload[:]), false, 0)
	return err
}
