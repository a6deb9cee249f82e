// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"math"
	"testing"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/neowu/mysqlconn/pkg/pnet"
	"github.com/neowu/mysqlconn/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestQueryResultSet(t *testing.T) {
	mcfg := defaultMockConfig()
	ms := newMockServer(t, mcfg)
	defer ms.close()
	ms.onQuery = func(p *pnet.PacketIO, query string) (bool, error) {
		if query != "SELECT id, name FROM users" {
			return false, nil
		}
		columns := []*pnet.ColumnDef{
			{Name: "id", Type: gomysql.MYSQL_TYPE_LONGLONG, Charset: 63},
			{Name: "name", Type: gomysql.MYSQL_TYPE_VAR_STRING, Charset: 255},
		}
		return true, ms.writeTypedResultSet(p, columns,
			[][]string{{"1", "alice"}, {"2", "bob"}}, mcfg.status)
	}

	c := connectClient(t, testConfig(ms.addr()))
	defer func() {
		require.NoError(t, c.Close())
	}()

	res, err := c.Query("SELECT id, name FROM users")
	require.NoError(t, err)
	require.True(t, res.HasResultSet())
	require.Len(t, res.Columns, 2)
	require.Equal(t, "id", res.Columns[0].Name)
	require.Len(t, res.Rows, 2)

	id, err := c.Decoder().Int64(res.Rows[1][0], res.Columns[0])
	require.NoError(t, err)
	require.Equal(t, int64(2), id)
	name, err := c.Decoder().String(res.Rows[1][1], res.Columns[1])
	require.NoError(t, err)
	require.Equal(t, "bob", name)
}

func TestQueryWithParams(t *testing.T) {
	ms := newMockServer(t, defaultMockConfig())
	defer ms.close()

	c := connectClient(t, testConfig(ms.addr()))
	defer func() {
		require.NoError(t, c.Close())
	}()

	_, err := c.Query("SELECT * FROM users WHERE id = ? AND name = ?",
		types.Bind(42), types.Bind("o'hara"))
	require.NoError(t, err)
	require.Contains(t, ms.capturedQueries(), "SELECT * FROM users WHERE id = 42 AND name = 'o\\'hara'")
}

func TestQueryEncodingError(t *testing.T) {
	ms := newMockServer(t, defaultMockConfig())
	defer ms.close()

	c := connectClient(t, testConfig(ms.addr()))
	defer func() {
		require.NoError(t, c.Close())
	}()
	before := len(ms.capturedQueries())

	_, err := c.Query("SELECT ?", types.Bind(math.NaN()))
	require.ErrorIs(t, err, types.ErrEncoding)
	// nothing reached the wire
	require.Len(t, ms.capturedQueries(), before)
	// the session stays usable
	require.NoError(t, c.Ping())
}

func TestQueryServerError(t *testing.T) {
	ms := newMockServer(t, defaultMockConfig())
	defer ms.close()
	ms.onQuery = func(p *pnet.PacketIO, query string) (bool, error) {
		if query == "SELECT boom" {
			return true, p.WriteErrPacket(gomysql.ER_NO_SUCH_TABLE, "Table 'test.boom' doesn't exist")
		}
		return false, nil
	}

	c := connectClient(t, testConfig(ms.addr()))
	defer func() {
		require.NoError(t, c.Close())
	}()

	_, err := c.Query("SELECT boom")
	require.ErrorIs(t, err, ErrServer)
	myErr := unwrapMyError(err)
	require.NotNil(t, myErr)
	require.Equal(t, uint16(gomysql.ER_NO_SUCH_TABLE), myErr.Code)
	// a server error leaves the stream consistent
	require.NoError(t, c.Ping())
}

func TestQueryMultiResult(t *testing.T) {
	mcfg := defaultMockConfig()
	ms := newMockServer(t, mcfg)
	defer ms.close()
	ms.onQuery = func(p *pnet.PacketIO, query string) (bool, error) {
		if query != "CALL multi()" {
			return false, nil
		}
		more := mcfg.status | gomysql.SERVER_MORE_RESULTS_EXISTS
		if err := ms.writeResultSet(p, []string{"a"}, [][]string{{"1"}}, more); err != nil {
			return true, err
		}
		return true, writeOKWithRows(p, 3, 0, mcfg.status, 0)
	}

	c := connectClient(t, testConfig(ms.addr()))
	defer func() {
		require.NoError(t, c.Close())
	}()

	res, err := c.Query("CALL multi()")
	require.NoError(t, err)
	require.True(t, res.HasResultSet())
	require.NotNil(t, res.NextResult)
	require.Equal(t, uint64(3), res.NextResult.AffectedRows)
	require.Nil(t, res.NextResult.NextResult)
}

func TestQueryWarningLatch(t *testing.T) {
	mcfg := defaultMockConfig()
	ms := newMockServer(t, mcfg)
	defer ms.close()
	ms.onQuery = func(p *pnet.PacketIO, query string) (bool, error) {
		if query == "UPDATE t SET v = 'truncated'" {
			return true, writeOKWithRows(p, 1, 0, mcfg.status, 2)
		}
		return false, nil
	}

	c := connectClient(t, testConfig(ms.addr()))
	defer func() {
		require.NoError(t, c.Close())
	}()

	res, err := c.Query("UPDATE t SET v = 'truncated'")
	require.ErrorIs(t, err, ErrDataTruncation)
	// the result is still delivered alongside the diagnostic
	require.NotNil(t, res)
	require.Equal(t, uint64(1), res.AffectedRows)
	require.Equal(t, uint16(2), res.Warnings)

	// the latch resets on the next command
	res, err = c.Query("SELECT 1")
	require.NoError(t, err)
	require.NotNil(t, res)
}

func TestPingInitDBReset(t *testing.T) {
	ms := newMockServer(t, defaultMockConfig())
	defer ms.close()

	c := connectClient(t, testConfig(ms.addr()))
	defer func() {
		require.NoError(t, c.Close())
	}()

	require.NoError(t, c.Ping())
	require.NoError(t, c.InitDB("other_db"))
	require.NoError(t, c.ResetConnection())
}

func TestSetOptionBareEOF(t *testing.T) {
	// the server answers COM_SET_OPTION with a bare EOF packet, which must not
	// be mistaken for a result set header
	ms := newMockServer(t, defaultMockConfig())
	defer ms.close()

	c := connectClient(t, testConfig(ms.addr()))
	defer func() {
		require.NoError(t, c.Close())
	}()

	require.NoError(t, c.SetOption(multiStatementsOn))
	require.NoError(t, c.SetOption(multiStatementsOff))
	require.NoError(t, c.Ping())
}

func TestCategorizeErrorPacketShapes(t *testing.T) {
	// pre-handshake errors carry no sql-state marker; the message must
	// survive intact
	data := []byte{0xff, byte(gomysql.ER_HOST_IS_BLOCKED & 0xff), byte(gomysql.ER_HOST_IS_BLOCKED >> 8)}
	data = append(data, "Host 'app' is blocked"...)
	err := categorizeServerError(data)
	require.ErrorIs(t, err, ErrServer)
	myErr := unwrapMyError(err)
	require.NotNil(t, myErr)
	require.Equal(t, "Host 'app' is blocked", myErr.Message)

	// a truncated error packet is a protocol violation, not a server error
	err = categorizeServerError([]byte{0xff, 0x15})
	require.ErrorIs(t, err, ErrProtocolViolation)
	require.Nil(t, unwrapMyError(err))
}

func TestQueryAfterClose(t *testing.T) {
	ms := newMockServer(t, defaultMockConfig())
	defer ms.close()

	c := connectClient(t, testConfig(ms.addr()))
	require.NoError(t, c.Close())

	_, err := c.Query("SELECT 1")
	require.ErrorIs(t, err, ErrConnClosed)
	require.True(t, errors.Is(c.Ping(), ErrConnClosed))
}
