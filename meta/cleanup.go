// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package meta

import (
	"context"
	"log"

	"github.com/go-core-stack/benji/errors"
	"github.com/go-core-stack/benji/reconciler"
)

// ObjectRemover removes stored block payloads by uid, the slice of the
// storage backend the cleanup sweep needs.
type ObjectRemover interface {
	Remove(ctx context.Context, uid string) error
}

// CleanupController sweeps the block rows and stored objects of
// deleted versions. It reconciles version keys: a key whose version
// row is gone has been deleted, and its leftovers are removed.
//
// Deduplication shares objects across versions, so the sweep drops
// the version's block rows first and removes only objects no block
// row of any version references anymore. A backup running
// concurrently with the sweep can still pick up an object between
// that reference probe and the removal, deployments interleaving
// backup and delete of the same data must serialize the two jobs.
type CleanupController struct {
	store   Store
	objects ObjectRemover
}

// NewCleanupController returns a controller ready to be registered on
// the store with RegisterCleanup.
func NewCleanupController(store Store, objects ObjectRemover) *CleanupController {
	return &CleanupController{
		store:   store,
		objects: objects,
	}
}

func (c *CleanupController) Reconcile(k any) (*reconciler.Result, error) {
	key := k.(*VersionKey)
	ctx := context.Background()

	_, err := c.store.GetVersion(ctx, key.Uid)
	if err == nil {
		// version still present, nothing to sweep
		return nil, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	blocks, err := c.store.BlocksByVersion(ctx, key.Uid)
	if err != nil {
		return nil, err
	}

	// drop the rows first so the reference counts below no longer
	// include this version
	count, err := c.store.DeleteBlocksByVersion(ctx, key.Uid)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, block := range blocks {
		if block.Sparse() || seen[block.Uid] {
			continue
		}
		seen[block.Uid] = true
		refs, err := c.store.CountBlocksByObject(ctx, block.Uid)
		if err != nil {
			return nil, err
		}
		if refs > 0 {
			// still referenced by another version
			continue
		}
		err = c.objects.Remove(ctx, block.Uid)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
	}

	if count > 0 {
		log.Printf("cleaned up %d blocks of deleted version %s", count, key.Uid)
	}
	return nil, nil
}
