// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
)

var (
	_ error = &WError{}
)

// WError pairs a cause sentinel with an underlying error, such that
// Is(err, sentinel) matches the sentinel while Unwrap(err) yields the
// underlying error.
type WError struct {
	uerr error
	cerr error
}

func (e *WError) Format(st fmt.State, verb rune) {
	switch verb {
	case 'v':
		if st.Flag('+') {
			fmt.Fprintf(st, "%+v: %+v", e.cerr, e.uerr)
		} else {
			fmt.Fprintf(st, "%v: %v", e.cerr, e.uerr)
		}
	case 's':
		if st.Flag('+') {
			fmt.Fprintf(st, "%+s: %+s", e.cerr, e.uerr)
		} else {
			fmt.Fprintf(st, "%s: %s", e.cerr, e.uerr)
		}
	}
}

func (e *WError) Error() string {
	return fmt.Sprintf("%s", e)
}

func (e *WError) Is(s error) bool {
	return errors.Is(e.cerr, s)
}

func (e *WError) Unwrap() error {
	return e.uerr
}

// Wrap attributes an unknown underlying error (typically from an external
// library or the runtime) to a known sentinel. Wrapping a nil underlying
// error yields the sentinel untouched; a nil sentinel yields nil.
func Wrap(cerr error, uerr error) error {
	if cerr == nil {
		return nil
	}
	if uerr == nil {
		return cerr
	}
	return &WError{
		uerr: uerr,
		cerr: cerr,
	}
}

// Wrapf is like Wrap, with the underlying error built by fmt.Errorf.
func Wrapf(cerr error, msg string, args ...interface{}) error {
	if cerr == nil {
		return nil
	}
	return &WError{
		uerr: fmt.Errorf(msg, args...),
		cerr: cerr,
	}
}
