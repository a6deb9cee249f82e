// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package charset

import (
	"fmt"

	"github.com/neowu/mysqlconn/lib/util/errors"
)

const (
	DefaultCharset = "utf8mb4"

	// CollationUTF8MB4Modern is utf8mb4_0900_ai_ci, the default since 8.0.1.
	CollationUTF8MB4Modern uint16 = 255
	// CollationUTF8MB4General is utf8mb4_general_ci, the default before 8.0.1.
	CollationUTF8MB4General uint16 = 45
	// CollationUTF8General is the legacy 3-byte utf8 fallback for servers
	// that predate utf8mb4.
	CollationUTF8General uint16 = 33
	CollationBinary      uint16 = 63
)

var (
	ErrUnknownCharset   = errors.New("unknown character set")
	ErrUnknownCollation = errors.New("unknown collation")
)

type collation struct {
	name    string
	charset string
	id      uint16
}

// The subset of collations the engine can negotiate. IDs follow
// information_schema.collations.
var collations = []collation{
	{"big5_chinese_ci", "big5", 1},
	{"latin1_swedish_ci", "latin1", 8},
	{"ascii_general_ci", "ascii", 11},
	{"sjis_japanese_ci", "sjis", 13},
	{"gbk_chinese_ci", "gbk", 28},
	{"utf8_general_ci", "utf8", 33},
	{"utf8mb4_general_ci", "utf8mb4", 45},
	{"utf8mb4_bin", "utf8mb4", 46},
	{"latin1_bin", "latin1", 47},
	{"binary", "binary", 63},
	{"utf8_bin", "utf8", 83},
	{"cp932_japanese_ci", "cp932", 95},
	{"utf8mb4_unicode_ci", "utf8mb4", 224},
	{"gb18030_chinese_ci", "gb18030", 248},
	{"utf8mb4_0900_ai_ci", "utf8mb4", 255},
	{"utf8mb4_0900_bin", "utf8mb4", 309},
}

// defaultCollations maps a charset to its pre-8.0 default collation.
var defaultCollations = map[string]uint16{
	"big5":    1,
	"latin1":  8,
	"ascii":   11,
	"sjis":    13,
	"gbk":     28,
	"utf8":    33,
	"utf8mb4": 45,
	"binary":  63,
	"cp932":   95,
	"gb18030": 248,
}

// backslashUnsafeCharsets render the second byte of some multi-byte code
// points as 0x5c, which breaks naive backslash escaping. The set matches what
// probing U+00A5 and U+20A9 through the respective encoders detects.
var backslashUnsafeCharsets = map[string]struct{}{
	"big5":  {},
	"sjis":  {},
	"cp932": {},
	"gbk":   {},
}

func CollationByName(name string) (uint16, error) {
	for _, c := range collations {
		if c.name == name {
			return c.id, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownCollation, "%s", name)
}

func CollationName(id uint16) string {
	for _, c := range collations {
		if c.id == id {
			return c.name
		}
	}
	return fmt.Sprintf("unknown(%d)", id)
}

func CharsetOfCollation(id uint16) string {
	for _, c := range collations {
		if c.id == id {
			return c.charset
		}
	}
	return ""
}

func DefaultCollation(charsetName string) (uint16, error) {
	if id, ok := defaultCollations[charsetName]; ok {
		return id, nil
	}
	return 0, errors.Wrapf(ErrUnknownCharset, "%s", charsetName)
}

// IsBackslashUnsafe reports whether escaping must quote instead of backslash
// for the given charset.
func IsBackslashUnsafe(charsetName string) bool {
	_, ok := backslashUnsafeCharsets[charsetName]
	return ok
}
