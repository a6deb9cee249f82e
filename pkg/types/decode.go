// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"strconv"
	"strings"
	"time"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/neowu/mysqlconn/pkg/pnet"
	"github.com/shopspring/decimal"
	"github.com/siddontang/go/hack"
)

var (
	// ErrTypeMismatch is returned when raw column bytes cannot be
	// materialized as the requested host type.
	ErrTypeMismatch = errors.New("cannot decode column value")
	// ErrNullValue is returned when a NULL column is decoded into a
	// non-nullable host type.
	ErrNullValue = errors.New("column value is NULL")
)

// Decoder materializes raw text-protocol column bytes into typed values
// according to the column definition.
type Decoder struct {
	loc *time.Location
}

func NewDecoder(loc *time.Location) *Decoder {
	if loc == nil {
		loc = time.UTC
	}
	return &Decoder{loc: loc}
}

func (d *Decoder) String(raw []byte, col *pnet.ColumnDef) (string, error) {
	if raw == nil {
		return "", errors.Wrapf(ErrNullValue, "column %s", col.Name)
	}
	return string(raw), nil
}

func (d *Decoder) Bytes(raw []byte, col *pnet.ColumnDef) ([]byte, error) {
	if raw == nil {
		return nil, errors.Wrapf(ErrNullValue, "column %s", col.Name)
	}
	return raw, nil
}

func (d *Decoder) Int64(raw []byte, col *pnet.ColumnDef) (int64, error) {
	if raw == nil {
		return 0, errors.Wrapf(ErrNullValue, "column %s", col.Name)
	}
	switch col.Type {
	case gomysql.MYSQL_TYPE_TINY, gomysql.MYSQL_TYPE_SHORT, gomysql.MYSQL_TYPE_INT24,
		gomysql.MYSQL_TYPE_LONG, gomysql.MYSQL_TYPE_LONGLONG, gomysql.MYSQL_TYPE_YEAR:
		n, err := strconv.ParseInt(hack.String(raw), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(ErrTypeMismatch, "column %s: %s", col.Name, err.Error())
		}
		return n, nil
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "column %s has wire type %d, not an integer", col.Name, col.Type)
}

func (d *Decoder) Uint64(raw []byte, col *pnet.ColumnDef) (uint64, error) {
	if raw == nil {
		return 0, errors.Wrapf(ErrNullValue, "column %s", col.Name)
	}
	switch col.Type {
	case gomysql.MYSQL_TYPE_TINY, gomysql.MYSQL_TYPE_SHORT, gomysql.MYSQL_TYPE_INT24,
		gomysql.MYSQL_TYPE_LONG, gomysql.MYSQL_TYPE_LONGLONG, gomysql.MYSQL_TYPE_YEAR:
		n, err := strconv.ParseUint(hack.String(raw), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(ErrTypeMismatch, "column %s: %s", col.Name, err.Error())
		}
		return n, nil
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "column %s has wire type %d, not an integer", col.Name, col.Type)
}

func (d *Decoder) Float64(raw []byte, col *pnet.ColumnDef) (float64, error) {
	if raw == nil {
		return 0, errors.Wrapf(ErrNullValue, "column %s", col.Name)
	}
	switch col.Type {
	case gomysql.MYSQL_TYPE_FLOAT, gomysql.MYSQL_TYPE_DOUBLE, gomysql.MYSQL_TYPE_NEWDECIMAL,
		gomysql.MYSQL_TYPE_TINY, gomysql.MYSQL_TYPE_SHORT, gomysql.MYSQL_TYPE_INT24,
		gomysql.MYSQL_TYPE_LONG, gomysql.MYSQL_TYPE_LONGLONG:
		f, err := strconv.ParseFloat(hack.String(raw), 64)
		if err != nil {
			return 0, errors.Wrapf(ErrTypeMismatch, "column %s: %s", col.Name, err.Error())
		}
		return f, nil
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "column %s has wire type %d, not numeric", col.Name, col.Type)
}

func (d *Decoder) Decimal(raw []byte, col *pnet.ColumnDef) (decimal.Decimal, error) {
	if raw == nil {
		return decimal.Decimal{}, errors.Wrapf(ErrNullValue, "column %s", col.Name)
	}
	switch col.Type {
	case gomysql.MYSQL_TYPE_NEWDECIMAL, gomysql.MYSQL_TYPE_DECIMAL,
		gomysql.MYSQL_TYPE_TINY, gomysql.MYSQL_TYPE_SHORT, gomysql.MYSQL_TYPE_INT24,
		gomysql.MYSQL_TYPE_LONG, gomysql.MYSQL_TYPE_LONGLONG:
		dec, err := decimal.NewFromString(hack.String(raw))
		if err != nil {
			return decimal.Decimal{}, errors.Wrapf(ErrTypeMismatch, "column %s: %s", col.Name, err.Error())
		}
		return dec, nil
	}
	return decimal.Decimal{}, errors.Wrapf(ErrTypeMismatch, "column %s has wire type %d, not a decimal", col.Name, col.Type)
}

func (d *Decoder) Bool(raw []byte, col *pnet.ColumnDef) (bool, error) {
	n, err := d.Int64(raw, col)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func (d *Decoder) Time(raw []byte, col *pnet.ColumnDef) (time.Time, error) {
	if raw == nil {
		return time.Time{}, errors.Wrapf(ErrNullValue, "column %s", col.Name)
	}
	s := hack.String(raw)
	var layout string
	switch col.Type {
	case gomysql.MYSQL_TYPE_DATE, gomysql.MYSQL_TYPE_NEWDATE:
		layout = "2006-01-02"
	case gomysql.MYSQL_TYPE_DATETIME, gomysql.MYSQL_TYPE_TIMESTAMP:
		layout = "2006-01-02 15:04:05"
		if strings.ContainsRune(s, '.') {
			layout += ".999999"
		}
	case gomysql.MYSQL_TYPE_YEAR:
		layout = "2006"
	default:
		return time.Time{}, errors.Wrapf(ErrTypeMismatch, "column %s has wire type %d, not temporal", col.Name, col.Type)
	}
	t, err := time.ParseInLocation(layout, s, d.loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrTypeMismatch, "column %s: %s", col.Name, err.Error())
	}
	return t, nil
}

func (d *Decoder) Duration(raw []byte, col *pnet.ColumnDef) (time.Duration, error) {
	if raw == nil {
		return 0, errors.Wrapf(ErrNullValue, "column %s", col.Name)
	}
	if col.Type != gomysql.MYSQL_TYPE_TIME {
		return 0, errors.Wrapf(ErrTypeMismatch, "column %s has wire type %d, not TIME", col.Name, col.Type)
	}
	s := hack.String(raw)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var frac string
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		frac = s[idx+1:]
		s = s[:idx]
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, errors.Wrapf(ErrTypeMismatch, "column %s: malformed TIME %q", col.Name, hack.String(raw))
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, errors.Wrapf(ErrTypeMismatch, "column %s: malformed TIME %q", col.Name, hack.String(raw))
	}
	dur := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
	if frac != "" {
		for len(frac) < 6 {
			frac += "0"
		}
		micros, err := strconv.Atoi(frac[:6])
		if err != nil {
			return 0, errors.Wrapf(ErrTypeMismatch, "column %s: malformed TIME %q", col.Name, hack.String(raw))
		}
		dur += time.Duration(micros) * time.Microsecond
	}
	if neg {
		dur = -dur
	}
	return dur, nil
}
