// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package pnet

const (
	// MaxPayloadLen is the max packet payload length.
	MaxPayloadLen = 1<<24 - 1
)

const (
	// ShaCommand and FastAuthFail/FastAuthOK are the single-byte statuses of
	// caching_sha2_password AuthMoreData packets.
	ShaCommand   = 1
	FastAuthOK   = 3
	FastAuthFail = 4
	// CachingSha2RequestPublicKey asks the server for its RSA public key when
	// full authentication runs over an insecure channel.
	CachingSha2RequestPublicKey = 2
)
