// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/neowu/mysqlconn/lib/util/errors"
)

var (
	ErrInvalidConfigValue = errors.New("invalid config value")
)

// Config is the resolved set of connection parameters the engine consumes.
// Parsing DSN / connection-string syntax into this structure is the caller's
// concern; the engine never sees the raw string.
type Config struct {
	Addr     string `yaml:"addr,omitempty" toml:"addr,omitempty" json:"addr,omitempty"`
	User     string `yaml:"user,omitempty" toml:"user,omitempty" json:"user,omitempty"`
	Password string `yaml:"password,omitempty" toml:"password,omitempty" json:"password,omitempty"`
	Database string `yaml:"database,omitempty" toml:"database,omitempty" json:"database,omitempty"`

	// Charset is the client character set; Collation overrides its default
	// collation when set.
	Charset   string `yaml:"charset,omitempty" toml:"charset,omitempty" json:"charset,omitempty"`
	Collation string `yaml:"collation,omitempty" toml:"collation,omitempty" json:"collation,omitempty"`

	Security Security `yaml:"security,omitempty" toml:"security,omitempty" json:"security,omitempty"`

	ConnectTimeout time.Duration `yaml:"connect-timeout,omitempty" toml:"connect-timeout,omitempty" json:"connect-timeout,omitempty"`
	ReadTimeout    time.Duration `yaml:"read-timeout,omitempty" toml:"read-timeout,omitempty" json:"read-timeout,omitempty"`
	QueryTimeout   time.Duration `yaml:"query-timeout,omitempty" toml:"query-timeout,omitempty" json:"query-timeout,omitempty"`

	// MaxAllowedPacket caps outgoing payloads. 0 means adopt the server's
	// max_allowed_packet after the handshake.
	MaxAllowedPacket int `yaml:"max-allowed-packet,omitempty" toml:"max-allowed-packet,omitempty" json:"max-allowed-packet,omitempty"`

	// Compression selects the compressed protocol: "", "zlib" or "zstd".
	Compression string `yaml:"compression,omitempty" toml:"compression,omitempty" json:"compression,omitempty"`
	ZstdLevel   int    `yaml:"zstd-level,omitempty" toml:"zstd-level,omitempty" json:"zstd-level,omitempty"`

	// SessionVariables is a comma-separated list of assignments applied right
	// after the handshake, e.g. "sql_mode='STRICT_TRANS_TABLES',max_execution_time=1000".
	SessionVariables string `yaml:"session-variables,omitempty" toml:"session-variables,omitempty" json:"session-variables,omitempty"`

	ConnectAttrs map[string]string `yaml:"connect-attrs,omitempty" toml:"connect-attrs,omitempty" json:"connect-attrs,omitempty"`

	KeepAlive KeepAlive `yaml:"keepalive,omitempty" toml:"keepalive,omitempty" json:"keepalive,omitempty"`

	// AllowExpiredPassword permits a sandboxed session when the server reports
	// an expired password instead of failing the handshake.
	AllowExpiredPassword bool `yaml:"allow-expired-password,omitempty" toml:"allow-expired-password,omitempty" json:"allow-expired-password,omitempty"`

	// RewriteBatchedStatements enables folding homogeneous batches into
	// multi-value or multi-statement round trips.
	RewriteBatchedStatements bool `yaml:"rewrite-batched-statements,omitempty" toml:"rewrite-batched-statements,omitempty" json:"rewrite-batched-statements,omitempty"`
	ContinueBatchOnError     bool `yaml:"continue-batch-on-error,omitempty" toml:"continue-batch-on-error,omitempty" json:"continue-batch-on-error,omitempty"`
	MaxBatchRows             int  `yaml:"max-batch-rows,omitempty" toml:"max-batch-rows,omitempty" json:"max-batch-rows,omitempty"`

	Log Log `yaml:"log,omitempty" toml:"log,omitempty" json:"log,omitempty"`
}

type KeepAlive struct {
	Enabled bool `yaml:"enabled,omitempty" toml:"enabled,omitempty" json:"enabled,omitempty"`
	// Idle, Cnt, and Intvl work only when the connection is idle. User packets
	// interrupt keep-alive. If the peer crashes silently, the connection is
	// closed within Idle+Cnt*Intvl.
	Idle  time.Duration `yaml:"idle,omitempty" toml:"idle,omitempty" json:"idle,omitempty"`
	Cnt   int           `yaml:"cnt,omitempty" toml:"cnt,omitempty" json:"cnt,omitempty"`
	Intvl time.Duration `yaml:"intvl,omitempty" toml:"intvl,omitempty" json:"intvl,omitempty"`
	// Timeout is the timeout of waiting ACK. It applies to both user packets
	// and keep-alive probes.
	Timeout time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`
}

type LogOnline struct {
	Level   string  `yaml:"level,omitempty" toml:"level,omitempty" json:"level,omitempty"`
	LogFile LogFile `yaml:"log-file,omitempty" toml:"log-file,omitempty" json:"log-file,omitempty"`
}

type Log struct {
	Encoder   string `yaml:"encoder,omitempty" toml:"encoder,omitempty" json:"encoder,omitempty"`
	LogOnline `yaml:",inline" toml:",inline" json:",inline"`
}

type LogFile struct {
	Filename   string `yaml:"filename,omitempty" toml:"filename,omitempty" json:"filename,omitempty"`
	MaxSize    int    `yaml:"max-size,omitempty" toml:"max-size,omitempty" json:"max-size,omitempty"`
	MaxDays    int    `yaml:"max-days,omitempty" toml:"max-days,omitempty" json:"max-days,omitempty"`
	MaxBackups int    `yaml:"max-backups,omitempty" toml:"max-backups,omitempty" json:"max-backups,omitempty"`
}

type TLSConfig struct {
	Cert          string `yaml:"cert,omitempty" toml:"cert,omitempty" json:"cert,omitempty"`
	Key           string `yaml:"key,omitempty" toml:"key,omitempty" json:"key,omitempty"`
	CA            string `yaml:"ca,omitempty" toml:"ca,omitempty" json:"ca,omitempty"`
	MinTLSVersion string `yaml:"min-tls-version,omitempty" toml:"min-tls-version,omitempty" json:"min-tls-version,omitempty"`
	SkipCA        bool   `yaml:"skip-ca,omitempty" toml:"skip-ca,omitempty" json:"skip-ca,omitempty"`
}

func (c TLSConfig) HasCert() bool {
	return !(c.Cert == "" && c.Key == "")
}

func (c TLSConfig) HasCA() bool {
	return c.CA != ""
}

type Security struct {
	SQLTLS TLSConfig `yaml:"sql-tls,omitempty" toml:"sql-tls,omitempty" json:"sql-tls,omitempty"`
	// RequireTLS fails the handshake when the server does not advertise SSL
	// support instead of continuing in plain text.
	RequireTLS bool `yaml:"require-tls,omitempty" toml:"require-tls,omitempty" json:"require-tls,omitempty"`
}

func DefaultKeepAlive() KeepAlive {
	return KeepAlive{
		Enabled: true,
		Idle:    60 * time.Second,
		Cnt:     5,
		Intvl:   3 * time.Second,
		Timeout: 15 * time.Second,
	}
}

func NewConfig() *Config {
	var cfg Config

	cfg.Addr = "127.0.0.1:3306"
	cfg.User = "root"
	cfg.Charset = "utf8mb4"
	cfg.ConnectTimeout = 10 * time.Second
	cfg.KeepAlive = DefaultKeepAlive()
	cfg.MaxBatchRows = 1000

	cfg.Log.Level = "info"
	cfg.Log.Encoder = "console"
	cfg.Log.LogFile.MaxSize = 300
	cfg.Log.LogFile.MaxDays = 3
	cfg.Log.LogFile.MaxBackups = 3

	return &cfg
}

// LoadFile overlays a TOML file onto the config.
func (cfg *Config) LoadFile(path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return errors.WithStack(errors.Wrap(ErrInvalidConfigValue, err))
	}
	return cfg.Check()
}

func (cfg *Config) Check() error {
	if cfg.Addr == "" {
		return errors.Wrapf(ErrInvalidConfigValue, "addr is required")
	}
	if cfg.User == "" {
		return errors.Wrapf(ErrInvalidConfigValue, "user is required")
	}
	switch cfg.Compression {
	case "", "zlib", "zstd":
	default:
		return errors.Wrapf(ErrInvalidConfigValue, "unknown compression %q", cfg.Compression)
	}
	if cfg.MaxAllowedPacket < 0 {
		return errors.Wrapf(ErrInvalidConfigValue, "max-allowed-packet must be non-negative")
	}
	if cfg.MaxBatchRows <= 0 {
		cfg.MaxBatchRows = 1000
	}
	return nil
}

func (cfg *Config) Clone() *Config {
	newCfg := *cfg
	if cfg.ConnectAttrs != nil {
		newCfg.ConnectAttrs = make(map[string]string, len(cfg.ConnectAttrs))
		for k, v := range cfg.ConnectAttrs {
			newCfg.ConnectAttrs[k] = v
		}
	}
	return &newCfg
}
