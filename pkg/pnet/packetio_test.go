// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package pnet

import (
	"net"
	"testing"

	"github.com/neowu/mysqlconn/lib/util/logger"
	"github.com/neowu/mysqlconn/lib/util/security"
	"github.com/neowu/mysqlconn/lib/util/waitgroup"
	"github.com/stretchr/testify/require"
)

func testPipeConn(t *testing.T, a func(*testing.T, *PacketIO), b func(*testing.T, *PacketIO), loop int) {
	lg, _ := logger.CreateLoggerForTest(t)
	var wg waitgroup.WaitGroup
	for i := 0; i < loop; i++ {
		client, server := net.Pipe()
		cli, srv := NewPacketIO(client, lg), NewPacketIO(server, lg)
		wg.Run(func() {
			a(t, cli)
			require.NoError(t, cli.Close())
		})
		wg.Run(func() {
			b(t, srv)
			require.NoError(t, srv.Close())
		})
		wg.Wait()
	}
}

func testTCPConn(t *testing.T, a func(*testing.T, *PacketIO), b func(*testing.T, *PacketIO), loop int) {
	lg, _ := logger.CreateLoggerForTest(t)
	listener, err := net.Listen("tcp", "0.0.0.0:0")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, listener.Close())
	}()
	var wg waitgroup.WaitGroup
	for i := 0; i < loop; i++ {
		wg.Run(func() {
			cli, err := net.Dial("tcp", listener.Addr().String())
			require.NoError(t, err)
			cliIO := NewPacketIO(cli, lg)
			a(t, cliIO)
			require.NoError(t, cliIO.Close())
		})
		wg.Run(func() {
			srv, err := listener.Accept()
			require.NoError(t, err)
			srvIO := NewPacketIO(srv, lg)
			b(t, srvIO)
			require.NoError(t, srvIO.Close())
		})
		wg.Wait()
	}
}

func TestPacketIO(t *testing.T) {
	expectMsg := []byte("test")
	testPipeConn(t,
		func(t *testing.T, cli *PacketIO) {
			// send anything
			require.NoError(t, cli.WritePacket(expectMsg, true))

			// send more than max payload
			require.NoError(t, cli.WritePacket(make([]byte, MaxPayloadLen+212), true))
			require.NoError(t, cli.WritePacket(make([]byte, MaxPayloadLen), true))
			require.NoError(t, cli.WritePacket(make([]byte, MaxPayloadLen*2), true))

			// the sequences on both sides must match after multi-frame packets
			msg, err := cli.ReadPacket()
			require.NoError(t, err)
			require.Equal(t, expectMsg, msg)
		},
		func(t *testing.T, srv *PacketIO) {
			msg, err := srv.ReadPacket()
			require.NoError(t, err)
			require.Equal(t, expectMsg, msg)

			data, err := srv.ReadPacket()
			require.NoError(t, err)
			require.Len(t, data, MaxPayloadLen+212)
			data, err = srv.ReadPacket()
			require.NoError(t, err)
			require.Len(t, data, MaxPayloadLen)
			data, err = srv.ReadPacket()
			require.NoError(t, err)
			require.Len(t, data, MaxPayloadLen*2)

			require.NoError(t, srv.WritePacket(expectMsg, true))
		},
		1,
	)
}

func TestPacketTooBig(t *testing.T) {
	testPipeConn(t,
		func(t *testing.T, cli *PacketIO) {
			cli.SetMaxAllowedPacket(1024)
			err := cli.WritePacket(make([]byte, 1025), true)
			require.ErrorIs(t, err, ErrPacketTooBig)
			// the connection is still usable after the rejection
			require.NoError(t, cli.WritePacket(make([]byte, 1024), true))
		},
		func(t *testing.T, srv *PacketIO) {
			data, err := srv.ReadPacket()
			require.NoError(t, err)
			require.Len(t, data, 1024)
		},
		1,
	)
}

func TestSequence(t *testing.T) {
	testPipeConn(t,
		func(t *testing.T, cli *PacketIO) {
			for i := 0; i < 3; i++ {
				require.NoError(t, cli.WritePacket([]byte("ping"), true))
				_, err := cli.ReadPacket()
				require.NoError(t, err)
			}
			require.Equal(t, uint8(6), cli.GetSequence())
			cli.ResetSequence()
			require.Equal(t, uint8(0), cli.GetSequence())
		},
		func(t *testing.T, srv *PacketIO) {
			for i := 0; i < 3; i++ {
				_, err := srv.ReadPacket()
				require.NoError(t, err)
				require.NoError(t, srv.WritePacket([]byte("pong"), false))
				require.NoError(t, srv.Flush())
			}
			srv.ResetSequence()
		},
		1,
	)
}

func TestReadPacketReusesBuffer(t *testing.T) {
	testPipeConn(t,
		func(t *testing.T, cli *PacketIO) {
			first, err := cli.ReadPacket()
			require.NoError(t, err)
			require.Equal(t, []byte("ping"), first)
			second, err := cli.ReadPacket()
			require.NoError(t, err)
			require.Equal(t, []byte("pong"), second)
			// the common path serves every read from the same buffer
			require.Same(t, &first[0], &second[0])

			// an oversized payload releases the grown buffer after use
			big, err := cli.ReadPacket()
			require.NoError(t, err)
			require.Len(t, big, maxReusableBufferSize+1)
			small, err := cli.ReadPacket()
			require.NoError(t, err)
			require.Equal(t, []byte("tail"), small)
			require.NotSame(t, &big[0], &small[0])
			require.LessOrEqual(t, cap(small), maxReusableBufferSize)
		},
		func(t *testing.T, srv *PacketIO) {
			require.NoError(t, srv.WritePacket([]byte("ping"), true))
			require.NoError(t, srv.WritePacket([]byte("pong"), true))
			require.NoError(t, srv.WritePacket(make([]byte, maxReusableBufferSize+1), true))
			require.NoError(t, srv.WritePacket([]byte("tail"), true))
		},
		1,
	)
}

func TestTLS(t *testing.T) {
	stls, ctls, err := security.CreateTLSConfigForTest()
	require.NoError(t, err)
	message := []byte("hello world")
	testTCPConn(t,
		func(t *testing.T, cli *PacketIO) {
			data, err := cli.ReadPacket()
			require.NoError(t, err)
			require.Equal(t, message, data)
			err = cli.WritePacket(message, true)
			require.NoError(t, err)

			require.NoError(t, cli.ClientTLSHandshake(ctls))

			err = cli.WritePacket(message, true)
			require.NoError(t, err)
			data, err = cli.ReadPacket()
			require.NoError(t, err)
			require.Equal(t, message, data)
		},
		func(t *testing.T, srv *PacketIO) {
			err := srv.WritePacket(message, true)
			require.NoError(t, err)
			data, err := srv.ReadPacket()
			require.NoError(t, err)
			require.Equal(t, message, data)

			_, err = srv.ServerTLSHandshake(stls)
			require.NoError(t, err)

			data, err = srv.ReadPacket()
			require.NoError(t, err)
			require.Equal(t, message, data)
			err = srv.WritePacket(message, true)
			require.NoError(t, err)
		},
		10,
	)
}

func TestPeerActive(t *testing.T) {
	testTCPConn(t,
		func(t *testing.T, cli *PacketIO) {
			require.True(t, cli.IsPeerActive())
			require.NoError(t, cli.WritePacket([]byte("quit"), true))
		},
		func(t *testing.T, srv *PacketIO) {
			_, err := srv.ReadPacket()
			require.NoError(t, err)
		},
		1,
	)
}
