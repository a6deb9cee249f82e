// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"math"
	"strconv"
	"time"

	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEncoding is raised before any bytes are sent; an encoding failure
	// never leaves a partially transmitted command.
	ErrEncoding = errors.New("cannot encode value")
)

// BindValue is one bound parameter.
type BindValue struct {
	Value any
	// Scale is the fractional-second precision for temporal values and the
	// target scale for decimals. -1 means unspecified.
	Scale int
	IsSet bool
}

func Bind(v any) BindValue {
	return BindValue{Value: v, Scale: -1, IsSet: true}
}

func BindWithScale(v any, scale int) BindValue {
	return BindValue{Value: v, Scale: scale, IsSet: true}
}

type encodeFunc func(e *Encoder, v BindValue) (string, error)

type encoderEntry struct {
	match func(v any) bool
	enc   encodeFunc
}

// Encoder serializes bound parameters into text-protocol literals. Encoders
// are looked up in registration order: exact types first, the assignable
// fallbacks last.
type Encoder struct {
	registry []encoderEntry
	loc      *time.Location
	// backslashUnsafe switches string escaping for charsets that render some
	// code points with a 0x5c byte.
	backslashUnsafe bool
}

type EncoderOption func(*Encoder)

func WithLocation(loc *time.Location) EncoderOption {
	return func(e *Encoder) {
		e.loc = loc
	}
}

func WithBackslashUnsafe(unsafe bool) EncoderOption {
	return func(e *Encoder) {
		e.backslashUnsafe = unsafe
	}
}

func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{loc: time.UTC}
	for _, opt := range opts {
		opt(e)
	}
	e.registry = []encoderEntry{
		{matchNil, encodeNull},
		{matchType[string], encodeString},
		{matchType[[]byte], encodeBytes},
		{matchType[bool], encodeBool},
		{matchType[float64], encodeFloat64},
		{matchType[float32], encodeFloat32},
		{matchType[decimal.Decimal], encodeDecimal},
		{matchType[time.Time], encodeDateTime},
		{matchType[time.Duration], encodeDuration},
		// assignable fallbacks for the remaining numeric kinds
		{matchSignedInt, encodeSignedInt},
		{matchUnsignedInt, encodeUnsignedInt},
	}
	return e
}

// Encode serializes one bound value. Unset values encode as DEFAULT-free
// NULL, matching the text protocol's expectations.
func (e *Encoder) Encode(v BindValue) (string, error) {
	if !v.IsSet {
		return "null", nil
	}
	for _, entry := range e.registry {
		if entry.match(v.Value) {
			return entry.enc(e, v)
		}
	}
	return "", errors.Wrapf(ErrEncoding, "unsupported parameter type %T", v.Value)
}

// EncodeAll serializes a full parameter set.
func (e *Encoder) EncodeAll(values []BindValue) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		s, err := e.Encode(v)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func matchNil(v any) bool {
	return v == nil
}

func matchType[T any](v any) bool {
	_, ok := v.(T)
	return ok
}

func matchSignedInt(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64:
		return true
	}
	return false
}

func matchUnsignedInt(v any) bool {
	switch v.(type) {
	case uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func encodeNull(*Encoder, BindValue) (string, error) {
	return "null", nil
}

func encodeString(e *Encoder, v BindValue) (string, error) {
	return e.escapeString(v.Value.(string))
}

func encodeBytes(e *Encoder, v BindValue) (string, error) {
	return e.escapeString(string(v.Value.([]byte)))
}

func encodeBool(_ *Encoder, v BindValue) (string, error) {
	if v.Value.(bool) {
		return "1", nil
	}
	return "0", nil
}

func encodeSignedInt(_ *Encoder, v BindValue) (string, error) {
	var n int64
	switch x := v.Value.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	}
	return strconv.FormatInt(n, 10), nil
}

func encodeUnsignedInt(_ *Encoder, v BindValue) (string, error) {
	var n uint64
	switch x := v.Value.(type) {
	case uint:
		n = uint64(x)
	case uint8:
		n = uint64(x)
	case uint16:
		n = uint64(x)
	case uint32:
		n = uint64(x)
	case uint64:
		n = x
	}
	return strconv.FormatUint(n, 10), nil
}

func encodeFloat64(_ *Encoder, v BindValue) (string, error) {
	return formatFloat(v.Value.(float64), 64)
}

func encodeFloat32(_ *Encoder, v BindValue) (string, error) {
	return formatFloat(float64(v.Value.(float32)), 32)
}

// formatFloat renders the shortest round-trippable decimal form. The server's
// literal grammar requires an explicit sign on the exponent, which Go's 'G'
// format always emits.
func formatFloat(f float64, bitSize int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.Wrapf(ErrEncoding, "%v is not representable in SQL", f)
	}
	return strconv.FormatFloat(f, 'G', -1, bitSize), nil
}

func encodeDecimal(_ *Encoder, v BindValue) (string, error) {
	d := v.Value.(decimal.Decimal)
	if v.Scale >= 0 {
		return AdjustPrecision(d, v.Scale), nil
	}
	return d.String(), nil
}

// AdjustPrecision rescales d to fsp fractional digits with half-up rounding,
// carrying into the integer part on overflow.
func AdjustPrecision(d decimal.Decimal, fsp int) string {
	return d.Round(int32(fsp)).StringFixed(int32(fsp))
}

func encodeDateTime(e *Encoder, v BindValue) (string, error) {
	fsp := v.Scale
	if fsp < 0 {
		fsp = 0
	}
	if fsp > MaxFsp {
		return "", errors.Wrapf(ErrEncoding, "fractional seconds precision %d out of range", fsp)
	}
	return "'" + FormatDateTime(v.Value.(time.Time).In(e.loc), fsp) + "'", nil
}

func encodeDuration(_ *Encoder, v BindValue) (string, error) {
	fsp := v.Scale
	if fsp < 0 {
		fsp = 0
	}
	if fsp > MaxFsp {
		return "", errors.Wrapf(ErrEncoding, "fractional seconds precision %d out of range", fsp)
	}
	return "'" + FormatDuration(v.Value.(time.Duration), fsp) + "'", nil
}
