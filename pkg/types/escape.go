// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"strings"

	"github.com/neowu/mysqlconn/lib/util/errors"
)

// needsEscape reports whether s contains a byte that must not appear raw
// inside a quoted literal. The scan is the only pass over the string in the
// common case; escaping allocates only when a special byte is actually found.
func needsEscape(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 0x00, '\n', '\r', '\\', '\'', 0x1a:
			return true
		}
	}
	return false
}

func (e *Encoder) escapeString(s string) (string, error) {
	if !needsEscape(s) {
		return "'" + s + "'", nil
	}
	if e.backslashUnsafe {
		return escapeQuoteDoubling(s)
	}
	return escapeBackslash(s), nil
}

func escapeBackslash(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	sb.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case 0x00:
			sb.WriteString(`\0`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case 0x1a:
			sb.WriteString(`\Z`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

// escapeQuoteDoubling is used for charsets where a backslash byte may be the
// second byte of a multi-byte character. Only quote doubling is safe there;
// control bytes cannot be escaped at all.
func escapeQuoteDoubling(s string) (string, error) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 0x00, '\n', '\r', 0x1a:
			return "", errors.Wrapf(ErrEncoding, "control byte %#x cannot be escaped in a backslash-unsafe charset", s[i])
		}
	}
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	sb.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			sb.WriteByte('\'')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('\'')
	return sb.String(), nil
}
