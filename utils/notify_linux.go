// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

//go:build linux

package utils

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func setTitle(title string) {
	// the kernel limits the comm value to 15 bytes plus NUL
	if len(title) > 15 {
		title = title[:15]
	}
	buf := make([]byte, len(title)+1)
	copy(buf, title)
	// best effort, a failing prctl is never worth surfacing
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}
