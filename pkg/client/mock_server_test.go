// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/neowu/mysqlconn/lib/config"
	"github.com/neowu/mysqlconn/lib/util/logger"
	"github.com/neowu/mysqlconn/lib/util/waitgroup"
	"github.com/neowu/mysqlconn/pkg/pnet"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const defaultServerCapability = pnet.ClientLongPassword | pnet.ClientLongFlag | pnet.ClientProtocol41 |
	pnet.ClientTransactions | pnet.ClientSecureConnection | pnet.ClientPluginAuth |
	pnet.ClientPluginAuthLenencClientData | pnet.ClientMultiStatements | pnet.ClientMultiResults |
	pnet.ClientDeprecateEOF | pnet.ClientConnectAttrs | pnet.ClientConnectWithDB | pnet.ClientSSL |
	pnet.ClientCompress | pnet.ClientZstdCompressionAlgorithm | pnet.ClientCanHandleExpiredPasswords

var mockSalt = []byte("01234567890123456789")

type mockServerConfig struct {
	capability    pnet.Capability
	serverVersion string
	connID        uint32
	salt          []byte
	authPlugin    string
	switchAuth    bool
	authErrCode   uint16
	fastAuth      bool
	status        uint16
	tlsConfig     *tls.Config
	vars          map[string]string
	// onQuery intercepts ComQuery before the default behavior; return true
	// when the query was handled.
	onQuery func(p *pnet.PacketIO, query string) (bool, error)
}

func defaultMockConfig() *mockServerConfig {
	return &mockServerConfig{
		capability:    defaultServerCapability,
		serverVersion: "8.0.36",
		connID:        88,
		salt:          mockSalt,
		authPlugin:    pnet.AuthNativePassword,
		status:        gomysql.SERVER_STATUS_AUTOCOMMIT,
		vars: map[string]string{
			"auto_increment_increment": "1",
			"character_set_connection": "utf8mb4",
			"collation_connection":     "utf8mb4_0900_ai_ci",
			"max_allowed_packet":       "67108864",
			"sql_mode":                 "STRICT_TRANS_TABLES,NO_ENGINE_SUBSTITUTION",
			"system_time_zone":         "UTC",
			"time_zone":                "SYSTEM",
		},
	}
}

// sessionVariableNames mirrors the select list of the session variable query.
var sessionVariableNames = []string{
	"auto_increment_increment", "character_set_connection", "collation_connection",
	"max_allowed_packet", "sql_mode", "system_time_zone", "time_zone",
}

type mockServer struct {
	*mockServerConfig
	lg       *zap.Logger
	listener net.Listener
	wg       *waitgroup.WaitGroupPool

	sync.Mutex
	// captured from the client
	username         string
	db               string
	authData         []byte
	clientCapability pnet.Capability
	queries          []string
}

func newMockServer(t *testing.T, cfg *mockServerConfig) *mockServer {
	lg, _ := logger.CreateLoggerForTest(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ms := &mockServer{
		mockServerConfig: cfg,
		lg:               lg,
		listener:         listener,
		wg:               waitgroup.NewWaitGroupPool(4, time.Minute),
	}
	ms.wg.RunWithRecover(func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			ms.wg.RunWithRecover(func() {
				ms.serve(conn)
			}, nil, lg)
		}
	}, nil, lg)
	return ms
}

func (ms *mockServer) addr() string {
	return ms.listener.Addr().String()
}

func (ms *mockServer) close() {
	_ = ms.listener.Close()
	ms.wg.Close()
}

func (ms *mockServer) serve(conn net.Conn) {
	p := pnet.NewPacketIO(conn, ms.lg)
	defer func() {
		_ = p.Close()
	}()
	if err := ms.authenticate(p); err != nil {
		return
	}
	// mirror the compression choice the client negotiated
	ms.Lock()
	clientCap := ms.clientCapability
	ms.Unlock()
	if clientCap&pnet.ClientCompress != 0 {
		if err := p.SetCompressionAlgorithm(pnet.CompressionZlib, 0); err != nil {
			return
		}
	} else if clientCap&pnet.ClientZstdCompressionAlgorithm != 0 {
		if err := p.SetCompressionAlgorithm(pnet.CompressionZstd, 3); err != nil {
			return
		}
	}
	ms.commandLoop(p)
}

func (ms *mockServer) authenticate(p *pnet.PacketIO) error {
	if err := p.WriteInitialHandshake(ms.capability, ms.salt, ms.authPlugin, ms.serverVersion, uint64(ms.connID)); err != nil {
		return err
	}
	pkt, err := p.ReadPacket()
	if err != nil {
		return err
	}
	clientFlags := pnet.Capability(binary.LittleEndian.Uint32(pkt[:4]))
	if clientFlags&pnet.ClientSSL != 0 && ms.tlsConfig != nil {
		if _, err = p.ServerTLSHandshake(ms.tlsConfig); err != nil {
			return err
		}
		if pkt, err = p.ReadPacket(); err != nil {
			return err
		}
	}
	resp, err := pnet.ParseHandshakeResponse(pkt)
	if err != nil {
		return err
	}
	ms.Lock()
	ms.username = resp.User
	ms.db = resp.DB
	ms.authData = resp.AuthData
	ms.clientCapability = resp.Capability
	ms.Unlock()

	if ms.switchAuth {
		if err = p.WriteSwitchRequest(ms.authPlugin, ms.salt); err != nil {
			return err
		}
		authData, err := p.ReadPacket()
		if err != nil {
			return err
		}
		ms.Lock()
		// the packet buffer is reused by the next read
		ms.authData = append([]byte(nil), authData...)
		ms.Unlock()
	}
	if ms.fastAuth {
		if err = p.WritePacket([]byte{byte(pnet.AuthMoreHeader), pnet.FastAuthOK}, true); err != nil {
			return err
		}
	}
	if ms.authErrCode != 0 {
		return p.WriteErrPacket(ms.authErrCode)
	}
	return p.WriteOKPacket(ms.status, pnet.OKHeader)
}

func (ms *mockServer) commandLoop(p *pnet.PacketIO) {
	for {
		p.ResetSequence()
		req, err := p.ReadPacket()
		if err != nil || len(req) == 0 {
			return
		}
		cmd, payload := pnet.Command(req[0]), req[1:]
		switch cmd {
		case pnet.ComQuit:
			return
		case pnet.ComPing, pnet.ComInitDB, pnet.ComResetConnection:
			err = p.WriteOKPacket(ms.status, pnet.OKHeader)
		case pnet.ComSetOption:
			err = p.WriteEOFPacket(ms.status)
		case pnet.ComQuery:
			err = ms.handleQuery(p, string(payload))
		default:
			err = p.WriteErrPacket(gomysql.ER_UNKNOWN_ERROR)
		}
		if err != nil {
			return
		}
	}
}

func (ms *mockServer) handleQuery(p *pnet.PacketIO, query string) error {
	ms.Lock()
	ms.queries = append(ms.queries, query)
	onQuery := ms.onQuery
	ms.Unlock()
	if onQuery != nil {
		handled, err := onQuery(p, query)
		if handled || err != nil {
			return err
		}
	}
	if strings.HasPrefix(query, "SELECT @@") {
		return ms.writeVariableResult(p)
	}
	return p.WriteOKPacket(ms.status, pnet.OKHeader)
}

func (ms *mockServer) writeVariableResult(p *pnet.PacketIO) error {
	columns := make([]string, 0, len(sessionVariableNames))
	row := make([]string, 0, len(sessionVariableNames))
	ms.Lock()
	for _, name := range sessionVariableNames {
		columns = append(columns, "@@"+name)
		row = append(row, ms.vars[name])
	}
	ms.Unlock()
	return ms.writeResultSet(p, columns, [][]string{row}, ms.status)
}

func (ms *mockServer) writeResultSet(p *pnet.PacketIO, columns []string, rows [][]string, status uint16) error {
	defs := make([]*pnet.ColumnDef, len(columns))
	for i, col := range columns {
		defs[i] = &pnet.ColumnDef{Name: col, Type: gomysql.MYSQL_TYPE_VAR_STRING, Charset: 255}
	}
	return ms.writeTypedResultSet(p, defs, rows, status)
}

func (ms *mockServer) writeTypedResultSet(p *pnet.PacketIO, columns []*pnet.ColumnDef, rows [][]string, status uint16) error {
	ms.Lock()
	deprecateEOF := ms.clientCapability&pnet.ClientDeprecateEOF != 0
	ms.Unlock()
	if err := p.WritePacket(pnet.DumpLengthEncodedInt(nil, uint64(len(columns))), false); err != nil {
		return err
	}
	for _, def := range columns {
		if err := p.WritePacket(pnet.DumpColumnDef(def), false); err != nil {
			return err
		}
	}
	if !deprecateEOF {
		if err := p.WriteEOFPacket(status); err != nil {
			return err
		}
	}
	for _, row := range rows {
		values := make([][]byte, len(row))
		for i, v := range row {
			values[i] = []byte(v)
		}
		if err := p.WritePacket(pnet.DumpTextRow(values), false); err != nil {
			return err
		}
	}
	if deprecateEOF {
		return p.WriteOKPacket(status, pnet.EOFHeader)
	}
	return p.WriteEOFPacket(status)
}

// writeOKWithRows writes an OK packet carrying affected rows and an insert id,
// which the stock test helper does not.
func writeOKWithRows(p *pnet.PacketIO, affected, insertID uint64, status, warnings uint16) error {
	data := make([]byte, 0, 16)
	data = append(data, pnet.OKHeader.Byte())
	data = pnet.DumpLengthEncodedInt(data, affected)
	data = pnet.DumpLengthEncodedInt(data, insertID)
	data = pnet.DumpUint16(data, status)
	data = pnet.DumpUint16(data, warnings)
	return p.WritePacket(data, true)
}

func (ms *mockServer) capturedQueries() []string {
	ms.Lock()
	defer ms.Unlock()
	return append([]string(nil), ms.queries...)
}

func (ms *mockServer) capturedAuth() (user string, authData []byte) {
	ms.Lock()
	defer ms.Unlock()
	return ms.username, ms.authData
}

func testConfig(addr string) *config.Config {
	cfg := config.NewConfig()
	cfg.Addr = addr
	cfg.User = "app_user"
	cfg.Password = "app_pass"
	cfg.KeepAlive.Enabled = false
	return cfg
}

func connectClient(t *testing.T, cfg *config.Config, opts ...Option) *Conn {
	lg, _ := logger.CreateLoggerForTest(t)
	c := NewConn(cfg, lg, opts...)
	require.NoError(t, c.Connect(context.Background()))
	return c
}
