// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package charset

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Negotiator resolves the session collation in two phases: a provisional
// choice before the server capabilities are fully known and a reconciliation
// after the session variables are loaded.
type Negotiator struct {
	logger *zap.Logger
	// requested configuration, either may be empty
	charsetName   string
	collationName string
	// resolved state
	collationID uint16
}

func NewNegotiator(charsetName, collationName string, logger *zap.Logger) *Negotiator {
	return &Negotiator{
		logger:        logger,
		charsetName:   charsetName,
		collationName: collationName,
	}
}

// ConfigurePreHandshake picks the collation sent in the handshake response.
// The server has only told us its version at this point.
func (n *Negotiator) ConfigurePreHandshake(serverVersion string) (uint16, error) {
	if n.collationName != "" {
		id, err := CollationByName(n.collationName)
		if err != nil {
			return 0, err
		}
		n.collationID = id
		return id, nil
	}

	charsetName := n.charsetName
	if charsetName == "" {
		charsetName = DefaultCharset
	}
	if charsetName == DefaultCharset {
		major, minor, patch := parseVersion(serverVersion)
		switch {
		case major > 8 || (major == 8 && (minor > 0 || patch >= 1)):
			n.collationID = CollationUTF8MB4Modern
		case major > 5 || (major == 5 && (minor > 5 || (minor == 5 && patch >= 3))):
			n.collationID = CollationUTF8MB4General
		default:
			// utf8mb4 did not exist yet
			n.collationID = CollationUTF8General
		}
		return n.collationID, nil
	}
	id, err := DefaultCollation(charsetName)
	if err != nil {
		return 0, err
	}
	n.collationID = id
	return id, nil
}

// CollationID returns the collation resolved by ConfigurePreHandshake.
func (n *Negotiator) CollationID() uint16 {
	return n.collationID
}

// Charset returns the charset of the resolved collation.
func (n *Negotiator) Charset() string {
	return CharsetOfCollation(n.collationID)
}

// ConfigurePostHandshake compares the collation the server actually applied
// with the negotiated one. It returns the SET NAMES statement to issue, or ""
// when the session already matches and no round trip is needed.
func (n *Negotiator) ConfigurePostHandshake(serverCharset, serverCollation string, forceCheck bool) string {
	wantCharset := CharsetOfCollation(n.collationID)
	wantCollation := CollationName(n.collationID)
	if !forceCheck && serverCharset == wantCharset && (n.collationName == "" || serverCollation == wantCollation) {
		return ""
	}
	if serverCharset == wantCharset && serverCollation == wantCollation {
		return ""
	}
	n.logger.Debug("session charset differs from the negotiated one",
		zap.String("server_charset", serverCharset),
		zap.String("server_collation", serverCollation),
		zap.String("charset", wantCharset),
		zap.String("collation", wantCollation))
	if n.collationName != "" {
		return fmt.Sprintf("SET NAMES %s COLLATE %s", wantCharset, wantCollation)
	}
	return fmt.Sprintf("SET NAMES %s", wantCharset)
}

// BackslashUnsafe reports whether the negotiated charset needs the
// escaping-sensitive encoder.
func (n *Negotiator) BackslashUnsafe() bool {
	return IsBackslashUnsafe(CharsetOfCollation(n.collationID))
}

func parseVersion(serverVersion string) (major, minor, patch int) {
	// versions look like "8.0.36" or "5.7.44-log"
	parts := strings.SplitN(serverVersion, "-", 2)
	nums := strings.Split(parts[0], ".")
	if len(nums) > 0 {
		major, _ = strconv.Atoi(nums[0])
	}
	if len(nums) > 1 {
		minor, _ = strconv.Atoi(nums[1])
	}
	if len(nums) > 2 {
		patch, _ = strconv.Atoi(nums[2])
	}
	return
}
