// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"strings"
	"testing"
	"time"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/neowu/mysqlconn/pkg/pnet"
	"github.com/stretchr/testify/require"
)

// blockingServer scripts a query that hangs until a KILL QUERY arrives on an
// auxiliary session, then fails with ER_QUERY_INTERRUPTED like a real server.
func blockingServer(t *testing.T) (*mockServer, chan struct{}) {
	mcfg := defaultMockConfig()
	ms := newMockServer(t, mcfg)
	killed := make(chan struct{})
	ms.onQuery = func(p *pnet.PacketIO, query string) (bool, error) {
		switch {
		case strings.HasPrefix(query, "SELECT SLEEP"):
			<-killed
			return true, p.WriteErrPacket(gomysql.ER_QUERY_INTERRUPTED)
		case strings.HasPrefix(query, "KILL QUERY"):
			close(killed)
			return true, p.WriteOKPacket(mcfg.status, pnet.OKHeader)
		}
		return false, nil
	}
	return ms, killed
}

func TestQueryTimeout(t *testing.T) {
	ms, _ := blockingServer(t)
	defer ms.close()

	cfg := testConfig(ms.addr())
	cfg.QueryTimeout = 100 * time.Millisecond
	c := connectClient(t, cfg)
	defer func() {
		require.NoError(t, c.Close())
	}()

	res, err := c.Query("SELECT SLEEP(10)")
	require.ErrorIs(t, err, ErrCanceledByTimeout)
	require.Nil(t, res)
	require.Contains(t, ms.capturedQueries(), fmt.Sprintf("KILL QUERY %d", c.ConnID()))

	// the kill left the stream consistent, the session survives
	require.NoError(t, c.Ping())
}

func TestCancelByUser(t *testing.T) {
	ms, _ := blockingServer(t)
	defer ms.close()

	c := connectClient(t, testConfig(ms.addr()))
	defer func() {
		require.NoError(t, c.Close())
	}()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	started := make(chan *cancelTask, 1)
	go func() {
		task := c.startCancelTask(time.Hour)
		started <- task
		res, err := c.sendCommand(makeCommand(pnet.ComQuery, []byte("SELECT SLEEP(10)")), false, time.Hour)
		if task.finish() == cancelOutcomeUser {
			res, err = nil, ErrCanceledByUser
		}
		done <- outcome{res, err}
	}()

	task := <-started
	task.Cancel()
	result := <-done
	require.ErrorIs(t, result.err, ErrCanceledByUser)
	require.Contains(t, ms.capturedQueries(), fmt.Sprintf("KILL QUERY %d", c.ConnID()))
	require.NoError(t, c.Ping())
}

func TestNoCancelOnFastResult(t *testing.T) {
	ms := newMockServer(t, defaultMockConfig())
	defer ms.close()

	cfg := testConfig(ms.addr())
	cfg.QueryTimeout = 10 * time.Second
	c := connectClient(t, cfg)
	defer func() {
		require.NoError(t, c.Close())
	}()

	res, err := c.Query("SELECT 1")
	require.NoError(t, err)
	require.NotNil(t, res)
	for _, q := range ms.capturedQueries() {
		require.NotContains(t, q, "KILL QUERY")
	}
}

func TestCancelTaskStates(t *testing.T) {
	ms, killed := blockingServer(t)
	defer ms.close()

	c := connectClient(t, testConfig(ms.addr()))
	defer func() {
		require.NoError(t, c.Close())
	}()

	// finishing before the timer fires keeps the outcome at delivered
	task := c.startCancelTask(time.Hour)
	require.Equal(t, cancelOutcomeDelivered, task.finish())
	// firing after delivery is a no-op, no kill session is spawned
	task.Cancel()
	c.wg.Wait()
	for _, q := range ms.capturedQueries() {
		require.NotContains(t, q, "KILL QUERY")
	}

	select {
	case <-killed:
		t.Fatal("kill query must not run after delivery")
	default:
	}
}
