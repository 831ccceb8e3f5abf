// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/go-core-stack/benji/completion"
	"github.com/go-core-stack/benji/errors"
	"github.com/go-core-stack/benji/meta"
	"github.com/go-core-stack/benji/resource"
	"github.com/go-core-stack/benji/utils"
)

// backupResult is the outcome of one block task: the finished block
// row ready to be recorded.
type backupResult struct {
	idx   uint64
	block meta.Block
}

// Backup reads the source image block by block and records a new
// version. Hints restrict the work to the extents that exist in the
// source, every uncovered block is recorded sparse without touching
// source or storage. The version is marked valid only when every block
// has been committed, a task fault aborts the job and leaves the
// version invalid.
func (e *Engine) Backup(ctx context.Context, name, snapshot string, source io.ReaderAt, size uint64, hints []utils.Hint) (*meta.Version, error) {
	version := &meta.Version{
		Name:      name,
		Snapshot:  snapshot,
		Size:      size,
		BlockSize: e.blockSize,
	}
	if err := e.meta.InsertVersion(ctx, version); err != nil {
		return nil, err
	}

	l, err := e.acquireVersionLock(ctx, version.Uid)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	start := time.Now()
	count := blockCount(size, e.blockSize)
	present := presentBlocks(hints, e.blockSize, count)

	drv, err := completion.New[*backupResult](e.writers)
	if err != nil {
		return nil, err
	}

	// a fault cancels the outstanding tasks, their results drain as
	// skipped faults below
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var firstFault error
	var stored uint64
	var committed uint64
	apply := func(res completion.Result[*backupResult]) {
		if res.Err != nil {
			if firstFault == nil {
				firstFault = res.Err
				cancel()
			}
			return
		}
		r := res.Value
		key := &meta.BlockKey{Version: version.Uid, Idx: r.idx}
		if err := e.meta.UpsertBlock(taskCtx, key, &r.block); err != nil && firstFault == nil {
			firstFault = err
			cancel()
			return
		}
		committed++
		stored += uint64(r.block.Size)
		utils.Notify(fmt.Sprintf("backup %s: %d/%d blocks, %s", name, committed, count, utils.PrettyBytes(stored)))
	}

	for idx := uint64(0); idx < count && firstFault == nil; idx++ {
		if present != nil && !present.Test(idx) {
			// sparse block, recorded without payload
			key := &meta.BlockKey{Version: version.Uid, Idx: idx}
			if err := e.meta.UpsertBlock(ctx, key, &meta.Block{Valid: true}); err != nil {
				firstFault = err
			}
			committed++
			continue
		}

		// keep the pool bounded, drain one completion per submit
		// once all permits are in flight
		for drv.Active() >= e.writers && firstFault == nil {
			dr := drv.Completions(0)
			if !dr.Next() {
				break
			}
			apply(dr.Result())
		}
		if firstFault != nil {
			break
		}

		if _, err := drv.Submit(taskCtx, e.backupTask(source, size, version.Uid, idx)); err != nil {
			firstFault = err
			break
		}
	}

	// drain whatever is still in flight, faults after the first are
	// dropped as data
	dr := drv.Completions(0)
	for dr.Next() {
		apply(dr.Result())
	}
	if err := dr.Err(); err != nil && firstFault == nil {
		firstFault = err
	}

	if firstFault != nil {
		e.logger.Error("backup failed", "version", version.Uid, "name", name, "error", firstFault)
		return nil, firstFault
	}

	checksum, err := e.versionChecksum(ctx, version.Uid, count)
	if err != nil {
		return nil, err
	}
	if err := e.meta.SetVersionChecksum(ctx, version.Uid, checksum); err != nil {
		return nil, err
	}
	if err := e.meta.SetVersionValid(ctx, version.Uid, true); err != nil {
		return nil, err
	}

	version, err = e.meta.GetVersion(ctx, version.Uid)
	if err != nil {
		return nil, err
	}
	e.logger.Info("backup completed",
		"version", version.Uid,
		"name", name,
		"date", utils.LocalTime(time.Unix(version.Date, 0)),
		"size", utils.PrettyBytes(size),
		"stored", utils.PrettyBytes(stored),
		"duration", utils.PrettyDuration(time.Since(start)))
	return version, nil
}

// backupTask builds the task of one block: throttle, read, hash,
// dedup-probe and store.
func (e *Engine) backupTask(source io.ReaderAt, size uint64, versionUid string, idx uint64) completion.TaskFunc[*backupResult] {
	length := e.blockLength(size, idx)
	return func(ctx context.Context) (*backupResult, error) {
		if err := e.bucket.Take(ctx, int64(length)); err != nil {
			return nil, err
		}

		buf := make([]byte, length)
		if _, err := source.ReadAt(buf, int64(idx)*int64(e.blockSize)); err != nil {
			return nil, errors.Wrapf(errors.Unknown, "failed to read block %d: %s", idx, err)
		}

		checksum := e.algorithm.Hexdigest(buf)

		// identical payload already stored, reference it
		hit, err := e.meta.FindBlockByChecksum(ctx, checksum)
		if err == nil && !hit.Sparse() {
			return &backupResult{
				idx: idx,
				block: meta.Block{
					Uid:      hit.Uid,
					Checksum: checksum,
					Size:     length,
					Valid:    true,
				},
			}, nil
		}
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}

		uid := uuid.New().String()
		if err := e.storage.Save(ctx, uid, buf); err != nil {
			return nil, err
		}
		return &backupResult{
			idx: idx,
			block: meta.Block{
				Uid:      uid,
				Checksum: checksum,
				Size:     length,
				Valid:    true,
			},
		}, nil
	}
}

// versionChecksum digests the ordered block checksums into one image
// level checksum, cheap to recompute without touching storage.
func (e *Engine) versionChecksum(ctx context.Context, uid string, count uint64) (string, error) {
	blocks, err := e.meta.BlocksByVersion(ctx, uid)
	if err != nil {
		return "", err
	}
	byIdx := make(map[uint64]*meta.Block, len(blocks))
	for _, b := range blocks {
		byIdx[b.Idx] = b
	}
	h := e.algorithm.New()
	for idx := uint64(0); idx < count; idx++ {
		b, ok := byIdx[idx]
		if !ok {
			return "", errors.Wrapf(errors.NotFound, "version %s is missing block %d", uid, idx)
		}
		fmt.Fprintf(h, "%d:%s\n", idx, b.Checksum)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// presentBlocks maps the hinted extents onto block indexes. A nil
// return means no hints were given and every block is present.
func presentBlocks(hints []utils.Hint, blockSize uint32, count uint64) *resource.Bitmap {
	if hints == nil {
		return nil
	}
	set := resource.NewBitmap(count)
	for _, hint := range hints {
		if !hint.Exists || hint.Length == 0 {
			continue
		}
		first := hint.Offset / uint64(blockSize)
		last := (hint.Offset + hint.Length - 1) / uint64(blockSize)
		for idx := first; idx <= last && idx < count; idx++ {
			set.Set(idx)
		}
	}
	return set
}
