// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package utils

import (
	"strings"
	"sync"
)

var (
	processName = "benji"
	lastTitle   string
	titleMu     sync.Mutex
)

// SetProcessName sets the base name shown in ps/top for this process and
// applies it immediately.
func SetProcessName(name string) {
	titleMu.Lock()
	defer titleMu.Unlock()
	processName = name
	lastTitle = name
	setTitle(name)
}

// Notify appends a progress message in brackets to the process title,
// e.g. "benji [backup 42.0%]". An empty message resets the title to the
// plain process name. Unchanged titles are not reapplied.
func Notify(msg string) {
	titleMu.Lock()
	defer titleMu.Unlock()
	title := processName
	if msg != "" {
		title = processName + " [" + strings.ReplaceAll(msg, "\n", " ") + "]"
	}
	if title == lastTitle {
		return
	}
	lastTitle = title
	setTitle(title)
}
