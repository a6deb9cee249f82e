// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
)

var (
	_ error = &MError{}
)

// MError collects multiple underlying errors under one cause.
type MError struct {
	cerr error
	uerr []error
}

func (e *MError) Format(st fmt.State, verb rune) {
	switch verb {
	case 'v':
		if st.Flag('+') {
			fmt.Fprintf(st, "%+v:\n", e.cerr)
			for _, ue := range e.uerr {
				fmt.Fprintf(st, "\t%+v", ue)
			}
		} else {
			fmt.Fprintf(st, "%v:\n", e.cerr)
			for _, ue := range e.uerr {
				fmt.Fprintf(st, "\t%v", ue)
			}
		}
	case 's':
		if st.Flag('+') {
			fmt.Fprintf(st, "%+s:\n", e.cerr)
			for _, ue := range e.uerr {
				fmt.Fprintf(st, "\t%+s", ue)
			}
		} else {
			fmt.Fprintf(st, "%s:\n", e.cerr)
			for _, ue := range e.uerr {
				fmt.Fprintf(st, "\t%s", ue)
			}
		}
	}
}

func (e *MError) Error() string {
	return fmt.Sprintf("%s", e)
}

func (e *MError) Is(s error) bool {
	if errors.Is(e.cerr, s) {
		return true
	}
	for _, ue := range e.uerr {
		if errors.Is(ue, s) {
			return true
		}
	}
	return false
}

func (e *MError) Cause() []error {
	return e.uerr
}

// Collect gathers non-nil errors under one cause. It returns nil when all
// underlying errors are nil. As does not traverse the underlying errors;
// use Cause for that.
func Collect(cerr error, uerr ...error) error {
	n := 0
	for _, e := range uerr {
		if e != nil {
			uerr[n] = e
			n++
		}
	}
	uerr = uerr[:n]
	if len(uerr) == 0 {
		return nil
	}
	return &MError{
		uerr: uerr,
		cerr: cerr,
	}
}
