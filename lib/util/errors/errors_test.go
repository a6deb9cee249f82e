// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package errors_test

import (
	gerr "errors"
	"fmt"
	"testing"

	serr "github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/stretchr/testify/require"
)

func TestStacktrace(t *testing.T) {
	e := serr.WithStack(serr.New("tt"))
	require.Equal(t, "tt", fmt.Sprintf("%s", e))
	require.Contains(t, fmt.Sprintf("%+v", e), t.Name(), "stacktrace must contain test name")
	require.Contains(t, fmt.Sprintf("%v", e), t.Name(), "stacktrace must contain test name")
	require.Contains(t, fmt.Sprintf("%+s", e), t.Name(), "stacktrace must contain test name")

	require.Nil(t, serr.WithStack(nil), "wrap nil got nil")
}

func TestUnwrapStack(t *testing.T) {
	e1 := gerr.New("t")
	e2 := serr.WithStack(e1)
	e3 := serr.WithStack(e2)
	require.Equal(t, nil, gerr.Unwrap(e2), "unwrapping skips the stacktrace layer")
	require.Equal(t, nil, gerr.Unwrap(e3), "unwrapping skips the stacktrace layer")
	require.ErrorIs(t, e2, e1, "stacktrace does not affect Is")
	require.ErrorAs(t, e2, &e1, "stacktrace does not affect As")
}

func TestWrap(t *testing.T) {
	sentinel := serr.New("sentinel")
	underlying := serr.New("underlying")

	e := serr.Wrap(sentinel, underlying)
	require.ErrorIs(t, e, sentinel)
	require.Equal(t, underlying, serr.Unwrap(e))
	require.Equal(t, "sentinel: underlying", e.Error())

	require.Nil(t, serr.Wrap(nil, underlying))
	require.Equal(t, sentinel, serr.Wrap(sentinel, nil))

	e = serr.Wrapf(sentinel, "op %s failed", "connect")
	require.ErrorIs(t, e, sentinel)
	require.Equal(t, "sentinel: op connect failed", e.Error())
}

func TestCollect(t *testing.T) {
	cause := serr.New("cause")
	e1 := serr.New("tt")
	e2 := serr.New("dd")

	e := serr.Collect(cause, e1, nil, e2)
	require.ErrorIs(t, e, cause)
	require.ErrorIs(t, e, e1)
	require.ErrorIs(t, e, e2)

	var me *serr.MError
	require.True(t, serr.As(e, &me))
	require.Len(t, me.Cause(), 2)

	require.Nil(t, serr.Collect(cause), "no underlying errors yields nil")
	require.Nil(t, serr.Collect(cause, nil, nil), "nil underlying errors yield nil")
}
