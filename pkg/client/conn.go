// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/neowu/mysqlconn/lib/config"
	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/neowu/mysqlconn/lib/util/security"
	"github.com/neowu/mysqlconn/lib/util/waitgroup"
	"github.com/neowu/mysqlconn/pkg/charset"
	"github.com/neowu/mysqlconn/pkg/pnet"
	"github.com/neowu/mysqlconn/pkg/sqlparse"
	"github.com/neowu/mysqlconn/pkg/types"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// baseCapability is what the engine supports; the handshake intersects it
// with what the server advertises.
const baseCapability = pnet.ClientLongPassword | pnet.ClientLongFlag | pnet.ClientProtocol41 |
	pnet.ClientTransactions | pnet.ClientSecureConnection | pnet.ClientPluginAuth |
	pnet.ClientPluginAuthLenencClientData | pnet.ClientMultiResults | pnet.ClientDeprecateEOF |
	pnet.ClientConnectAttrs

// SessionListener is notified when the session is forcibly cleaned up, so
// collaborators can release dependent resources.
type SessionListener interface {
	OnSessionClosed(connID uint32, reason error)
}

// Conn is one client session. It is used by at most one logical caller at a
// time; the engine only serializes cancellation against result delivery.
type Conn struct {
	cfg           *config.Config
	logger        *zap.Logger
	pkt           *pnet.PacketIO
	negotiator    *charset.Negotiator
	encoder       *types.Encoder
	decoder       *types.Decoder
	stmtCache     *sqlparse.Cache
	tokenProvider TokenProvider
	wg            waitgroup.WaitGroup

	serverVersion string
	connID        uint32
	capability    pnet.Capability
	status        uint16
	// warnings is latched by the command engine after each response and
	// cleared at the start of the next command.
	warnings               uint16
	autoIncrementIncrement int

	// forceSetNames is set when the negotiated collation does not fit in the
	// one-byte handshake field and must be applied by statement instead.
	forceSetNames bool

	listeners atomic.Pointer[[]SessionListener]
	closed    atomic.Bool
}

type Option func(*Conn)

// WithTokenProvider enables managed-identity auth: user and password are
// obtained from the provider instead of the config.
func WithTokenProvider(p TokenProvider) Option {
	return func(c *Conn) {
		c.tokenProvider = p
	}
}

func NewConn(cfg *config.Config, lg *zap.Logger, opts ...Option) *Conn {
	// the default cache size is always valid
	stmtCache, _ := sqlparse.NewCache(0)
	c := &Conn{
		cfg:        cfg,
		logger:     lg,
		negotiator: charset.NewNegotiator(cfg.Charset, cfg.Collation, lg.Named("charset")),
		stmtCache:  stmtCache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conn) ConnID() uint32 {
	return c.connID
}

func (c *Conn) ServerVersion() string {
	return c.serverVersion
}

func (c *Conn) Capability() pnet.Capability {
	return c.capability
}

// Status returns the server status flags captured from the last response.
func (c *Conn) Status() uint16 {
	return c.status
}

// Connect drives the whole connect sequence:
// INIT -> GREETING -> [TLS] -> AUTHENTICATED -> VARIABLES_LOADED -> READY.
// Any failure before READY tears the transport down; no partial session is
// ever exposed to the caller.
func (c *Conn) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return errors.Wrap(ErrConnectionFailure, err)
	}
	c.pkt = pnet.NewPacketIO(conn, c.logger, pnet.WithRemoteAddr(c.cfg.Addr, conn.RemoteAddr()))
	if err := c.pkt.SetKeepalive(c.cfg.KeepAlive); err != nil {
		c.logger.Warn("failed to set keepalive", zap.Error(err))
	}
	c.pkt.SetReadTimeout(c.cfg.ReadTimeout)
	if c.cfg.MaxAllowedPacket > 0 {
		c.pkt.SetMaxAllowedPacket(c.cfg.MaxAllowedPacket)
	}

	if err := c.handshake(); err != nil {
		if closeErr := c.pkt.Close(); closeErr != nil {
			c.logger.Warn("failed to close connection after handshake failure", zap.Error(closeErr))
		}
		return err
	}
	if err := c.loadSessionVariables(); err != nil {
		if closeErr := c.pkt.Close(); closeErr != nil {
			c.logger.Warn("failed to close connection after session setup failure", zap.Error(closeErr))
		}
		return err
	}
	c.logger.Debug("session established",
		zap.Uint32("conn_id", c.connID),
		zap.String("server_version", c.serverVersion),
		zap.Stringer("capability", c.capability))
	return nil
}

func (c *Conn) handshake() error {
	c.pkt.ResetSequence()
	data, err := c.pkt.ReadPacket()
	if err != nil {
		return errors.Wrap(ErrConnectionFailure, err)
	}
	if pnet.IsErrorPacket(data) {
		return categorizeServerError(data)
	}
	hs, err := pnet.ParseInitialHandshake(data)
	if err != nil {
		return errors.Wrap(ErrProtocolViolation, err)
	}
	c.serverVersion = hs.ServerVersion
	c.connID = hs.ConnID
	c.status = hs.Status

	collationID, err := c.negotiator.ConfigurePreHandshake(hs.ServerVersion)
	if err != nil {
		return err
	}
	collationByte := uint8(collationID)
	if collationID > 255 {
		// The handshake field is one byte; apply the real collation with
		// SET NAMES once the session is up.
		collationByte = uint8(charset.CollationUTF8MB4General)
		c.forceSetNames = true
	}

	tlsConfig, err := c.buildTLSConfig()
	if err != nil {
		return errors.Wrap(ErrConnectionFailure, err)
	}
	if tlsConfig != nil && hs.Capability&pnet.ClientSSL == 0 {
		if c.cfg.Security.RequireTLS {
			return errors.Wrapf(ErrConnectionFailure, "server %s does not support TLS", c.cfg.Addr)
		}
		c.logger.Warn("server does not support TLS, continuing in plain text")
		tlsConfig = nil
	}

	c.capability = c.buildCapability(hs.Capability, tlsConfig != nil)

	if tlsConfig != nil {
		if err := c.pkt.WritePacket(pnet.MakeSSLRequest(c.capability, collationByte), true); err != nil {
			return err
		}
		if err := c.pkt.ClientTLSHandshake(tlsConfig); err != nil {
			return errors.Wrap(ErrConnectionFailure, err)
		}
	}

	user, password := c.cfg.User, c.cfg.Password
	if c.tokenProvider != nil {
		if user, password, err = c.tokenProvider(); err != nil {
			return errors.Wrap(ErrConnectionFailure, err)
		}
	}
	secure := tlsConfig != nil
	plugin := hs.AuthPlugin
	if plugin == "" {
		plugin = pnet.AuthNativePassword
	}
	authData, err := makeAuthData(plugin, hs.Salt, password, secure)
	if err != nil {
		return err
	}
	resp := &pnet.HandshakeResp{
		User:       user,
		DB:         c.cfg.Database,
		AuthPlugin: plugin,
		AuthData:   authData,
		Capability: c.capability,
		Collation:  collationByte,
		Attrs:      c.connectAttrs(),
		ZstdLevel:  c.cfg.ZstdLevel,
	}
	if err := c.pkt.WritePacket(pnet.MakeHandshakeResponse(resp), true); err != nil {
		return err
	}
	if err := c.authLoop(password, secure); err != nil {
		return err
	}
	return c.enableCompression()
}

func (c *Conn) authLoop(password string, secure bool) error {
	for {
		data, err := c.pkt.ReadPacket()
		if err != nil {
			return errors.Wrap(ErrConnectionFailure, err)
		}
		switch {
		case pnet.IsOKPacket(data):
			res := pnet.ParseOKPacket(data, c.capability)
			c.status = res.Status
			return nil
		case pnet.IsErrorPacket(data):
			return categorizeServerError(data)
		case pnet.IsAuthSwitchRequest(data):
			req := pnet.ParseAuthSwitchRequest(data)
			authData, err := makeAuthData(req.Plugin, req.Salt, password, secure)
			if err != nil {
				return err
			}
			if err := c.pkt.WritePacket(authData, true); err != nil {
				return err
			}
		case pnet.Header(data[0]) == pnet.AuthMoreHeader && len(data) >= 2:
			switch data[1] {
			case pnet.FastAuthOK:
				// the OK packet follows
			case pnet.FastAuthFail:
				// Full authentication. Over TLS the password goes in the
				// clear; the RSA public-key exchange is not implemented.
				if !secure {
					return errors.Wrapf(ErrUnsupportedAuthPlugin, "full authentication requires a secure channel")
				}
				if err := c.pkt.WritePacket(pnet.CalcClearPassword(password), true); err != nil {
					return err
				}
			default:
				return errors.Wrapf(ErrProtocolViolation, "unexpected auth response %#x", data[1])
			}
		default:
			return errors.Wrapf(ErrProtocolViolation, "unexpected packet header %#x during authentication", data[0])
		}
	}
}

func (c *Conn) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := c.cfg.Security.SQLTLS
	if c.cfg.Security.RequireTLS && !tlsCfg.HasCA() {
		// RequireTLS without a CA still enables TLS, just without verifying
		// the server.
		tlsCfg.SkipCA = true
	}
	tlsConfig, err := security.BuildClientTLSConfig(c.logger, tlsCfg)
	if err != nil || tlsConfig == nil {
		return nil, err
	}
	if host, _, err := net.SplitHostPort(c.cfg.Addr); err == nil {
		tlsConfig.ServerName = host
	}
	return tlsConfig, nil
}

func (c *Conn) buildCapability(serverCapability pnet.Capability, withTLS bool) pnet.Capability {
	capability := baseCapability
	if c.cfg.Database != "" {
		capability |= pnet.ClientConnectWithDB
	}
	if withTLS {
		capability |= pnet.ClientSSL
	}
	if c.cfg.AllowExpiredPassword {
		capability |= pnet.ClientCanHandleExpiredPasswords
	}
	switch c.cfg.Compression {
	case "zlib":
		capability |= pnet.ClientCompress
	case "zstd":
		capability |= pnet.ClientZstdCompressionAlgorithm
	}
	capability &= serverCapability | pnet.ClientSSL
	if capability&pnet.ClientProtocol41 == 0 {
		// the rest of the engine assumes 4.1 framing, so keep the flag and
		// let the server reject the response
		capability |= pnet.ClientProtocol41
	}
	return capability
}

func (c *Conn) connectAttrs() map[string]string {
	attrs := map[string]string{
		"_client_name": "mysqlconn",
	}
	for k, v := range c.cfg.ConnectAttrs {
		attrs[k] = v
	}
	return attrs
}

func (c *Conn) enableCompression() error {
	switch c.cfg.Compression {
	case "zlib":
		if c.capability&pnet.ClientCompress == 0 {
			c.logger.Warn("server does not support zlib compression, continuing uncompressed")
			return nil
		}
		return c.pkt.SetCompressionAlgorithm(pnet.CompressionZlib, 0)
	case "zstd":
		if c.capability&pnet.ClientZstdCompressionAlgorithm == 0 {
			c.logger.Warn("server does not support zstd compression, continuing uncompressed")
			return nil
		}
		return c.pkt.SetCompressionAlgorithm(pnet.CompressionZstd, c.cfg.ZstdLevel)
	}
	return nil
}

// AddListener registers a cleanup listener. The listener list is
// copy-on-write so notification iteration is never invalidated by concurrent
// registration.
func (c *Conn) AddListener(l SessionListener) {
	for {
		old := c.listeners.Load()
		var newList []SessionListener
		if old != nil {
			newList = append(newList, *old...)
		}
		newList = append(newList, l)
		if c.listeners.CompareAndSwap(old, &newList) {
			return
		}
	}
}

func (c *Conn) RemoveListener(l SessionListener) {
	for {
		old := c.listeners.Load()
		if old == nil {
			return
		}
		newList := make([]SessionListener, 0, len(*old))
		for _, o := range *old {
			if o != l {
				newList = append(newList, o)
			}
		}
		if c.listeners.CompareAndSwap(old, &newList) {
			return
		}
	}
}

func (c *Conn) notifyClosed(reason error) {
	if list := c.listeners.Load(); list != nil {
		for _, l := range *list {
			l.OnSessionClosed(c.connID, reason)
		}
	}
}

// forceClose tears the session down on an unrecoverable error and notifies
// listeners so dependent resources are released.
func (c *Conn) forceClose(reason error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.logger.Warn("closing session", zap.Uint32("conn_id", c.connID), zap.Error(reason))
	if err := c.pkt.Close(); err != nil {
		c.logger.Warn("failed to close connection", zap.Error(err))
	}
	c.notifyClosed(reason)
}

// Close quits the session gracefully. Cleanup errors are discarded;
// correctness does not depend on the quit packet arriving.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.pkt != nil {
		if err := c.writeCommand(pnet.ComQuit, nil); err != nil {
			c.logger.Debug("failed to send quit", zap.Error(err))
		}
		if err := c.pkt.Close(); err != nil {
			c.logger.Warn("failed to close connection", zap.Error(err))
		}
	}
	c.wg.Wait()
	return nil
}
