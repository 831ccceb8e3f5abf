// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

//go:build !linux

package utils

// process-title annotation is linux only
func setTitle(title string) {
}
