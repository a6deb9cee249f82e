// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"strconv"
	"strings"
	"time"

	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/neowu/mysqlconn/pkg/pnet"
	"github.com/neowu/mysqlconn/pkg/types"
	"github.com/siddontang/go/hack"
	"go.uber.org/zap"
)

// One round trip fetches everything the session needs to finalize.
const sessionVariableQuery = "SELECT @@auto_increment_increment, @@character_set_connection, @@collation_connection," +
	" @@max_allowed_packet, @@sql_mode, @@system_time_zone, @@time_zone"

// sql_mode values the engine cannot work under: they change the literal
// grammar that value escaping and temporal formatting assume.
var disallowedSQLModes = []string{"NO_BACKSLASH_ESCAPES", "ANSI_QUOTES", "ANSI", "TIME_TRUNCATE_FRACTIONAL"}

// loadSessionVariables is the VARIABLES_LOADED step: it fetches the session
// variables in one batched query, validates the sql_mode preconditions,
// adopts the server's packet limit, resolves the session time zone, and
// reconciles the charset, issuing SET NAMES only on a mismatch.
func (c *Conn) loadSessionVariables() error {
	res, err := c.sendCommand(makeCommand(pnet.ComQuery, hack.Slice(sessionVariableQuery)), false, 0)
	if err != nil && !(errors.Is(err, ErrDataTruncation) && res != nil) {
		return err
	}
	if !res.HasResultSet() || len(res.Rows) != 1 {
		return errors.Wrapf(ErrProtocolViolation, "unexpected response to the session variable query")
	}
	vars := make(map[string]string, len(res.Columns))
	for i, col := range res.Columns {
		name := strings.TrimPrefix(col.Name, "@@")
		if raw := res.Rows[0][i]; raw != nil {
			vars[name] = string(raw)
		}
	}

	if err := validateSQLMode(vars["sql_mode"]); err != nil {
		return err
	}

	if c.cfg.MaxAllowedPacket == 0 {
		if size, err := strconv.Atoi(vars["max_allowed_packet"]); err == nil {
			c.pkt.SetMaxAllowedPacket(size)
		}
	}
	if inc, err := strconv.Atoi(vars["auto_increment_increment"]); err == nil {
		c.autoIncrementIncrement = inc
	}

	loc := c.resolveTimeZone(vars["time_zone"], vars["system_time_zone"])
	c.encoder = types.NewEncoder(
		types.WithLocation(loc),
		types.WithBackslashUnsafe(c.negotiator.BackslashUnsafe()),
	)
	c.decoder = types.NewDecoder(loc)

	if stmt := c.negotiator.ConfigurePostHandshake(vars["character_set_connection"], vars["collation_connection"], c.forceSetNames); stmt != "" {
		if _, err := c.sendCommand(makeCommand(pnet.ComQuery, hack.Slice(stmt)), false, 0); err != nil {
			return err
		}
	}

	if c.cfg.SessionVariables != "" {
		stmt := "SET " + c.cfg.SessionVariables
		if _, err := c.sendCommand(makeCommand(pnet.ComQuery, hack.Slice(stmt)), false, 0); err != nil {
			return err
		}
	}
	return nil
}

// validateSQLMode enforces the hard preconditions of the value codec.
func validateSQLMode(mode string) error {
	modes := strings.Split(mode, ",")
	strict := false
	for _, m := range modes {
		m = strings.ToUpper(strings.TrimSpace(m))
		for _, bad := range disallowedSQLModes {
			if m == bad {
				return errors.Wrapf(ErrUnsupportedSQLMode, "%s breaks value escaping and formatting assumptions", m)
			}
		}
		if m == "STRICT_TRANS_TABLES" {
			strict = true
		}
	}
	if !strict {
		return errors.Wrapf(ErrUnsupportedSQLMode, "STRICT_TRANS_TABLES is required")
	}
	return nil
}

// resolveTimeZone maps the server's time_zone variable to a host location.
// "SYSTEM" defers to system_time_zone; offsets like "+08:00" become fixed
// zones; unknown names fall back to UTC with a warning.
func (c *Conn) resolveTimeZone(timeZone, systemTimeZone string) *time.Location {
	name := timeZone
	if strings.EqualFold(name, "SYSTEM") {
		name = systemTimeZone
	}
	if name == "" {
		return time.UTC
	}
	if name[0] == '+' || name[0] == '-' {
		if loc := parseOffsetZone(name); loc != nil {
			return loc
		}
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	c.logger.Warn("unknown session time zone, falling back to UTC", zap.String("time_zone", name))
	return time.UTC
}

func parseOffsetZone(name string) *time.Location {
	sign := 1
	if name[0] == '-' {
		sign = -1
	}
	parts := strings.Split(name[1:], ":")
	if len(parts) != 2 {
		return nil
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hours > 14 || minutes > 59 {
		return nil
	}
	return time.FixedZone(name, sign*(hours*3600+minutes*60))
}
