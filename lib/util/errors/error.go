// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"runtime"
)

const defaultStackDepth = 48

var (
	_ error         = &Error{}
	_ fmt.Formatter = &Error{}
)

// Error attaches a stacktrace to an error.
type Error struct {
	err   error
	trace stacktrace
}

// WithStack wraps an error with a stacktrace of the default depth.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	e := &Error{err: err}
	e.withStackDepth(1, defaultStackDepth)
	return e
}

// WithStackDepth is like WithStack with a custom stack depth.
func WithStackDepth(err error, depth int) error {
	if err == nil {
		return nil
	}
	e := &Error{err: err}
	e.withStackDepth(1, depth)
	return e
}

func (e *Error) withStackDepth(skip, depth int) {
	e.trace = make(stacktrace, depth)
	runtime.Callers(2+skip, e.trace)
}

// Format implements fmt.Formatter. %v and %+v include the stacktrace, %s does not.
func (e *Error) Format(st fmt.State, verb rune) {
	switch verb {
	case 'v':
		if st.Flag('+') {
			fmt.Fprintf(st, "%+v", e.err)
		} else {
			fmt.Fprintf(st, "%v", e.err)
		}
		e.trace.Format(st, 'v')
	case 's':
		if st.Flag('+') {
			fmt.Fprintf(st, "%+s", e.err)
			e.trace.Format(st, 's')
		} else {
			fmt.Fprintf(st, "%s", e.err)
		}
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s", e)
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.err, target)
}

func (e *Error) As(target interface{}) bool {
	return errors.As(e.err, target)
}

func (e *Error) Unwrap() error {
	return errors.Unwrap(e.err)
}
