// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package storage persists block payloads as uniquely named objects.
package storage

import (
	"context"
)

// Backend stores block payloads by uid. Implementations classify
// failures through the errors package codes, a missing object reads
// back as NotFound.
type Backend interface {
	// Save persists the payload under the given uid.
	Save(ctx context.Context, uid string, data []byte) error

	// Read returns the payload stored under the given uid.
	Read(ctx context.Context, uid string) ([]byte, error)

	// Remove deletes the object stored under the given uid.
	Remove(ctx context.Context, uid string) error

	// Close releases backend resources.
	Close() error
}
