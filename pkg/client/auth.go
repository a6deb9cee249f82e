// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/neowu/mysqlconn/pkg/pnet"
)

// TokenProvider supplies short-lived credentials for managed-identity auth.
// It is consulted at connect time and again when the auxiliary kill session
// connects, because the token may need refreshing between the two.
type TokenProvider func() (user, token string, err error)

var ErrUnsupportedAuthPlugin = errors.New("unsupported auth plugin")

// authPlugin computes the auth response for one server-chosen plugin. secure
// reports whether the channel is TLS-protected; plugins that would transmit
// the password in the clear refuse to run on an insecure channel.
type authPlugin func(salt []byte, password string, secure bool) ([]byte, error)

var authPlugins = map[string]authPlugin{
	pnet.AuthNativePassword: func(salt []byte, password string, _ bool) ([]byte, error) {
		return pnet.CalcNativePassword(salt, password), nil
	},
	pnet.AuthCachingSha2Password: func(salt []byte, password string, _ bool) ([]byte, error) {
		return pnet.CalcCachingSha2Password(salt, password), nil
	},
	pnet.AuthMySQLClearPassword: func(_ []byte, password string, secure bool) ([]byte, error) {
		if !secure {
			return nil, errors.Wrapf(ErrUnsupportedAuthPlugin, "%s requires a secure channel", pnet.AuthMySQLClearPassword)
		}
		return pnet.CalcClearPassword(password), nil
	},
	pnet.AuthSha256Password: func(_ []byte, password string, secure bool) ([]byte, error) {
		// Without TLS the plugin needs an RSA public-key exchange, which the
		// engine does not implement.
		if !secure {
			return nil, errors.Wrapf(ErrUnsupportedAuthPlugin, "%s requires a secure channel", pnet.AuthSha256Password)
		}
		return pnet.CalcClearPassword(password), nil
	},
}

// makeAuthData resolves the plugin by name. An empty name falls back to
// mysql_native_password, which matches servers that predate plugin auth.
func makeAuthData(plugin string, salt []byte, password string, secure bool) ([]byte, error) {
	if plugin == "" {
		plugin = pnet.AuthNativePassword
	}
	fn, ok := authPlugins[plugin]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedAuthPlugin, "server requested %q", plugin)
	}
	return fn(salt, password, secure)
}
