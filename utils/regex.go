// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package utils

import "regexp"

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// IsValidName returns true if the provided string is acceptable as a
// version or snapshot name.
// Usage:
//
//	valid := utils.IsValidName("host-2026-08-23") // returns true
//	valid := utils.IsValidName("../escape")       // returns false
func IsValidName(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	return nameRegex.MatchString(name)
}
