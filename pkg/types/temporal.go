// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"strings"
	"time"
)

// MaxFsp is the maximum fractional-second precision MySQL supports.
const MaxFsp = 6

// FormatDate renders a DATE literal body.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// FormatDateTime renders a DATETIME/TIMESTAMP literal body with fsp
// fractional digits (0 omits the fraction entirely).
func FormatDateTime(t time.Time, fsp int) string {
	if fsp <= 0 {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02 15:04:05." + strings.Repeat("0", fsp))
}

// FormatYear renders a YEAR literal body.
func FormatYear(t time.Time) string {
	return t.Format("2006")
}

// FormatDuration renders a TIME literal body. MySQL TIME ranges beyond 24
// hours and may be negative.
func FormatDuration(d time.Duration, fsp int) string {
	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	fmt.Fprintf(&sb, "%02d:%02d:%02d", hours, minutes, seconds)
	if fsp > 0 {
		micros := d / time.Microsecond
		frac := fmt.Sprintf("%06d", micros)
		sb.WriteByte('.')
		sb.WriteString(frac[:fsp])
	}
	return sb.String()
}
