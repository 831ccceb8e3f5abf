// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package meta manages the backup metadata: versions and the block
// rows describing which stored object carries each block of a version.
package meta

import (
	"context"
)

// VersionKey identifies one backup version.
type VersionKey struct {
	Uid string `bson:"uid,omitempty"`
}

// Version describes one backup of a named source at a point in time.
// A version starts out invalid and is marked valid only once every
// block of the backup has been committed.
type Version struct {
	Uid       string `bson:"uid,omitempty"`
	Name      string `bson:"name,omitempty"`
	Snapshot  string `bson:"snapshot,omitempty"`
	Date      int64  `bson:"date,omitempty"`
	Size      uint64 `bson:"size"`
	BlockSize uint32 `bson:"blockSize,omitempty"`
	Valid     bool   `bson:"valid"`
	Protected bool   `bson:"protected"`
	Checksum  string `bson:"checksum,omitempty"`
}

// BlockKey identifies one block of a version by index.
type BlockKey struct {
	Version string `bson:"version,omitempty"`
	Idx     uint64 `bson:"idx"`
}

// Block is the metadata row of one block. A sparse block carries no
// stored object: Uid is empty and Size is zero. Version and Idx repeat
// the key so filtered lookups and listings see them.
type Block struct {
	Version  string `bson:"version,omitempty"`
	Idx      uint64 `bson:"idx"`
	Uid      string `bson:"uid,omitempty"`
	Checksum string `bson:"checksum,omitempty"`
	Size     uint32 `bson:"size"`
	Valid    bool   `bson:"valid"`
}

// Sparse reports whether this block carries no stored payload.
func (b *Block) Sparse() bool {
	return b.Uid == ""
}

// Store is the metadata interface the engine drives. Implementations
// must classify failures through the errors package codes, NotFound in
// particular.
type Store interface {
	// InsertVersion records a new version, assigning its uid and
	// date when unset. Fails with InvalidArgument on a bad name.
	InsertVersion(ctx context.Context, version *Version) error

	// GetVersion returns the version with the given uid.
	GetVersion(ctx context.Context, uid string) (*Version, error)

	// SetVersionValid flips the valid flag of a version.
	SetVersionValid(ctx context.Context, uid string, valid bool) error

	// SetVersionChecksum records the full image checksum of a version.
	SetVersionChecksum(ctx context.Context, uid string, checksum string) error

	// SetVersionProtected flips the protected flag of a version.
	SetVersionProtected(ctx context.Context, uid string, protected bool) error

	// ListVersions returns all recorded versions.
	ListVersions(ctx context.Context) ([]*Version, error)

	// DeleteVersion removes the version row. Block rows are swept
	// separately, typically by the cleanup controller.
	DeleteVersion(ctx context.Context, uid string) error

	// UpsertBlock records or replaces the block row for the key.
	UpsertBlock(ctx context.Context, key *BlockKey, block *Block) error

	// GetBlock returns the block row for the key.
	GetBlock(ctx context.Context, key *BlockKey) (*Block, error)

	// BlocksByVersion returns all block rows of a version.
	BlocksByVersion(ctx context.Context, uid string) ([]*Block, error)

	// SetBlockValid flips the valid flag of a block row.
	SetBlockValid(ctx context.Context, key *BlockKey, valid bool) error

	// DeleteBlocksByVersion removes all block rows of a version,
	// returning the number removed.
	DeleteBlocksByVersion(ctx context.Context, uid string) (int64, error)

	// FindBlockByChecksum returns a valid block row carrying the
	// given checksum, the dedup probe used during backup.
	FindBlockByChecksum(ctx context.Context, checksum string) (*Block, error)

	// CountBlocksByObject returns the number of block rows, across
	// all versions, referencing the given stored object uid.
	// Deduplication shares objects between versions, so the cleanup
	// sweep removes an object only once this drops to zero.
	CountBlocksByObject(ctx context.Context, uid string) (int64, error)
}
