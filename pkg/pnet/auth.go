// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package pnet

import (
	"crypto/sha1"
	"crypto/sha256"
)

const (
	AuthNativePassword      = "mysql_native_password"
	AuthCachingSha2Password = "caching_sha2_password"
	AuthSha256Password      = "sha256_password"
	AuthMySQLClearPassword  = "mysql_clear_password"
	AuthSocket              = "auth_socket"
)

// CalcNativePassword computes the mysql_native_password scramble:
// SHA1(password) XOR SHA1(salt + SHA1(SHA1(password))).
func CalcNativePassword(salt []byte, password string) []byte {
	if len(password) == 0 {
		return nil
	}

	crypt := sha1.New()
	crypt.Write([]byte(password))
	stage1 := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(stage1)
	hash := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(salt)
	crypt.Write(hash)
	scramble := crypt.Sum(nil)

	for i := range scramble {
		scramble[i] ^= stage1[i]
	}
	return scramble
}

// CalcCachingSha2Password computes the caching_sha2_password scramble:
// SHA256(password) XOR SHA256(SHA256(SHA256(password)) + salt).
func CalcCachingSha2Password(salt []byte, password string) []byte {
	if len(password) == 0 {
		return nil
	}

	crypt := sha256.New()
	crypt.Write([]byte(password))
	message1 := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(message1)
	message1Hash := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(message1Hash)
	crypt.Write(salt)
	message2 := crypt.Sum(nil)

	for i := range message1 {
		message1[i] ^= message2[i]
	}
	return message1
}

// CalcClearPassword returns the mysql_clear_password response: the password
// itself with a trailing NUL. It must only be sent over a secure channel.
func CalcClearPassword(password string) []byte {
	return append([]byte(password), 0)
}
