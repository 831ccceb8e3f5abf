// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package utils

import (
	"encoding/json"

	"github.com/go-core-stack/benji/errors"
)

// Hint describes one extent of a source device that a backup needs to
// look at. Extents with Exists false are known holes and are recorded as
// sparse blocks without reading the source.
type Hint struct {
	Offset uint64
	Length uint64
	Exists bool
}

type rbdDiffEntry struct {
	Offset uint64          `json:"offset"`
	Length uint64          `json:"length"`
	Exists json.RawMessage `json:"exists"`
}

// HintsFromRBDDiff parses the JSON output of "rbd diff --format=json"
// into backup hints. The exists field is tolerated both as a bool and as
// the strings "true"/"false", older rbd releases emit the latter.
func HintsFromRBDDiff(diff []byte) ([]Hint, error) {
	var entries []rbdDiffEntry
	if err := json.Unmarshal(diff, &entries); err != nil {
		return nil, errors.Wrapf(errors.InvalidArgument, "malformed rbd diff: %s", err)
	}

	hints := make([]Hint, 0, len(entries))
	for _, e := range entries {
		exists, err := parseExists(e.Exists)
		if err != nil {
			return nil, err
		}
		hints = append(hints, Hint{
			Offset: e.Offset,
			Length: e.Length,
			Exists: exists,
		})
	}
	return hints, nil
}

func parseExists(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s != "false" && s != "", nil
	}
	return false, errors.Wrapf(errors.InvalidArgument, "malformed exists field %q in rbd diff", string(raw))
}
