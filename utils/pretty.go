// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// unit breakdown for PrettyDuration, months approximated at 30 days
var durationUnits = []struct {
	seconds int64
	suffix  string
}{
	{365 * 24 * 3600, "y"},
	{30 * 24 * 3600, "m"},
	{24 * 3600, "d"},
	{3600, "h"},
	{60, "m"},
	{1, "s"},
}

// PrettyDuration renders a duration as a largest-unit breakdown like
// "1d 02h 03m 04s". Only used for human display, never for control
// decisions.
func PrettyDuration(d time.Duration) string {
	remain := int64(d.Seconds())
	if remain < 0 {
		remain = 0
	}
	parts := []string{}
	for i, unit := range durationUnits {
		n := remain / unit.seconds
		remain %= unit.seconds
		// seconds are always shown, other units only once reached
		if n > 0 || i == len(durationUnits)-1 {
			parts = append(parts, fmt.Sprintf("%02d%s", n, unit.suffix))
		}
	}
	return strings.Join(parts, " ")
}

// PrettyBytes renders a byte count in IEC units, e.g. "4.0 MiB".
func PrettyBytes(n uint64) string {
	return humanize.IBytes(n)
}

// LocalTime renders a timestamp in the local time zone for display.
func LocalTime(t time.Time) string {
	return t.Local().Format("2006-01-02T15:04:05")
}
