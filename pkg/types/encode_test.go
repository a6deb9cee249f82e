// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestEncodeScalars(t *testing.T) {
	e := NewEncoder()
	tests := []struct {
		value any
		want  string
	}{
		{nil, "null"},
		{true, "1"},
		{false, "0"},
		{int(42), "42"},
		{int8(-128), "-128"},
		{int64(math.MinInt64), "-9223372036854775808"},
		{uint64(math.MaxUint64), "18446744073709551615"},
		{"hello", "'hello'"},
		{[]byte("bytes"), "'bytes'"},
		{float64(3.5), "3.5"},
		{float32(0.25), "0.25"},
	}
	for _, tt := range tests {
		got, err := e.Encode(Bind(tt.value))
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}

	_, err := e.Encode(Bind(struct{}{}))
	require.ErrorIs(t, err, ErrEncoding)

	got, err := e.Encode(BindValue{})
	require.NoError(t, err)
	require.Equal(t, "null", got, "unset values encode as null")
}

func TestEncodeFloatExponent(t *testing.T) {
	e := NewEncoder()
	got, err := e.Encode(Bind(float64(1e21)))
	require.NoError(t, err)
	require.Contains(t, got, "E+", "exponent must carry an explicit sign")

	got, err = e.Encode(Bind(float64(1e-7)))
	require.NoError(t, err)
	require.Contains(t, got, "E-")

	// round trip of the shortest form
	require.Equal(t, "2.2250738585072014E-308", func() string {
		s, err := e.Encode(Bind(2.2250738585072014e-308))
		require.NoError(t, err)
		return s
	}())
}

func TestEncodeNonFinite(t *testing.T) {
	e := NewEncoder()
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := e.Encode(Bind(f))
		require.ErrorIs(t, err, ErrEncoding)
	}
	_, err := e.Encode(Bind(float32(math.NaN())))
	require.ErrorIs(t, err, ErrEncoding)
}

func TestEscapeString(t *testing.T) {
	e := NewEncoder()
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"it's", `'it\'s'`},
		{"a\nb", `'a\nb'`},
		{"a\rb", `'a\rb'`},
		{`a\b`, `'a\\b'`},
		{"a\x00b", `'a\0b'`},
		{"a\x1ab", `'a\Zb'`},
		{`say "hi"`, `'say "hi"'`},
	}
	for _, tt := range tests {
		got, err := e.Encode(Bind(tt.in))
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestEscapeBackslashUnsafe(t *testing.T) {
	e := NewEncoder(WithBackslashUnsafe(true))
	got, err := e.Encode(Bind("it's"))
	require.NoError(t, err)
	require.Equal(t, "'it''s'", got)

	_, err = e.Encode(Bind("a\x00b"))
	require.ErrorIs(t, err, ErrEncoding)
}

func TestEncodeDecimal(t *testing.T) {
	e := NewEncoder()

	d := decimal.RequireFromString("12.345")
	got, err := e.Encode(BindWithScale(d, 2))
	require.NoError(t, err)
	require.Equal(t, "12.35", got)

	got, err = e.Encode(BindWithScale(d, 6))
	require.NoError(t, err)
	require.Equal(t, "12.345000", got)

	// rounding carries across the integer boundary
	d = decimal.RequireFromString("0.9999995")
	require.Equal(t, "1.000000", AdjustPrecision(d, 6))

	d = decimal.RequireFromString("-0.9999995")
	require.Equal(t, "-1.000000", AdjustPrecision(d, 6))

	for fsp := 0; fsp <= 6; fsp++ {
		s := AdjustPrecision(decimal.RequireFromString("3.14159265"), fsp)
		if fsp == 0 {
			require.NotContains(t, s, ".")
		} else {
			require.Len(t, strings.SplitN(s, ".", 2)[1], fsp)
		}
	}
}

func TestEncodeTemporal(t *testing.T) {
	e := NewEncoder()
	ts := time.Date(2024, 3, 7, 9, 5, 1, 123456789, time.UTC)

	got, err := e.Encode(Bind(ts))
	require.NoError(t, err)
	require.Equal(t, "'2024-03-07 09:05:01'", got)

	got, err = e.Encode(BindWithScale(ts, 3))
	require.NoError(t, err)
	require.Equal(t, "'2024-03-07 09:05:01.123'", got)

	got, err = e.Encode(BindWithScale(ts, 6))
	require.NoError(t, err)
	require.Equal(t, "'2024-03-07 09:05:01.123456'", got)

	_, err = e.Encode(BindWithScale(ts, 7))
	require.ErrorIs(t, err, ErrEncoding)

	require.Equal(t, "2024-03-07", FormatDate(ts))
	require.Equal(t, "2024", FormatYear(ts))
}

func TestEncodeDuration(t *testing.T) {
	e := NewEncoder()
	tests := []struct {
		d    time.Duration
		fsp  int
		want string
	}{
		{90*time.Minute + 5*time.Second, 0, "'01:30:05'"},
		{-(90*time.Minute + 5*time.Second), 0, "'-01:30:05'"},
		{200*time.Hour + 999*time.Millisecond, 3, "'200:00:00.999'"},
		{1500 * time.Microsecond, 6, "'00:00:00.001500'"},
	}
	for _, tt := range tests {
		got, err := e.Encode(BindWithScale(tt.d, tt.fsp))
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestEncodeAll(t *testing.T) {
	e := NewEncoder()
	out, err := e.EncodeAll([]BindValue{Bind(1), Bind("x"), Bind(nil)})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "'x'", "null"}, out)

	_, err = e.EncodeAll([]BindValue{Bind(1), Bind(math.NaN())})
	require.ErrorIs(t, err, ErrEncoding)
}
