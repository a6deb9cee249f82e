// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"testing"
	"time"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/neowu/mysqlconn/pkg/pnet"
	"github.com/stretchr/testify/require"
)

func col(name string, wireType byte) *pnet.ColumnDef {
	return &pnet.ColumnDef{Name: name, Type: wireType}
}

func TestDecodeInt(t *testing.T) {
	d := NewDecoder(nil)

	n, err := d.Int64([]byte("-42"), col("a", gomysql.MYSQL_TYPE_LONG))
	require.NoError(t, err)
	require.Equal(t, int64(-42), n)

	u, err := d.Uint64([]byte("18446744073709551615"), col("a", gomysql.MYSQL_TYPE_LONGLONG))
	require.NoError(t, err)
	require.Equal(t, uint64(18446744073709551615), u)

	_, err = d.Int64([]byte("abc"), col("a", gomysql.MYSQL_TYPE_LONG))
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = d.Int64([]byte("1"), col("a", gomysql.MYSQL_TYPE_VAR_STRING))
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = d.Int64(nil, col("a", gomysql.MYSQL_TYPE_LONG))
	require.ErrorIs(t, err, ErrNullValue)
}

func TestDecodeFloatAndDecimal(t *testing.T) {
	d := NewDecoder(nil)

	f, err := d.Float64([]byte("3.5"), col("a", gomysql.MYSQL_TYPE_DOUBLE))
	require.NoError(t, err)
	require.Equal(t, 3.5, f)

	dec, err := d.Decimal([]byte("12.340"), col("a", gomysql.MYSQL_TYPE_NEWDECIMAL))
	require.NoError(t, err)
	require.Equal(t, "12.34", dec.String())

	_, err = d.Decimal([]byte("x"), col("a", gomysql.MYSQL_TYPE_NEWDECIMAL))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDecodeStringAndBool(t *testing.T) {
	d := NewDecoder(nil)

	s, err := d.String([]byte("hello"), col("a", gomysql.MYSQL_TYPE_VAR_STRING))
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	b, err := d.Bool([]byte("1"), col("a", gomysql.MYSQL_TYPE_TINY))
	require.NoError(t, err)
	require.True(t, b)

	_, err = d.String(nil, col("a", gomysql.MYSQL_TYPE_VAR_STRING))
	require.ErrorIs(t, err, ErrNullValue)
}

func TestDecodeTemporal(t *testing.T) {
	d := NewDecoder(time.UTC)

	ts, err := d.Time([]byte("2024-03-07 09:05:01.123456"), col("a", gomysql.MYSQL_TYPE_DATETIME))
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 7, 9, 5, 1, 123456000, time.UTC), ts)

	ts, err = d.Time([]byte("2024-03-07"), col("a", gomysql.MYSQL_TYPE_DATE))
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC), ts)

	_, err = d.Time([]byte("not a date"), col("a", gomysql.MYSQL_TYPE_DATE))
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = d.Time([]byte("1"), col("a", gomysql.MYSQL_TYPE_LONG))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDecodeDuration(t *testing.T) {
	d := NewDecoder(nil)

	dur, err := d.Duration([]byte("01:30:05"), col("a", gomysql.MYSQL_TYPE_TIME))
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute+5*time.Second, dur)

	dur, err = d.Duration([]byte("-200:00:00.999"), col("a", gomysql.MYSQL_TYPE_TIME))
	require.NoError(t, err)
	require.Equal(t, -(200*time.Hour + 999*time.Millisecond), dur)

	_, err = d.Duration([]byte("nope"), col("a", gomysql.MYSQL_TYPE_TIME))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := NewEncoder()
	d := NewDecoder(time.UTC)

	dur := -(13*time.Hour + 14*time.Minute + 15*time.Second + 123456*time.Microsecond)
	encoded, err := e.Encode(BindWithScale(dur, 6))
	require.NoError(t, err)
	// strip the quotes the encoder adds for the wire literal
	decoded, err := d.Duration([]byte(encoded[1:len(encoded)-1]), col("a", gomysql.MYSQL_TYPE_TIME))
	require.NoError(t, err)
	require.Equal(t, dur, decoded)
}
