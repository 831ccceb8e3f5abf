// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	"github.com/go-core-stack/benji/completion"
	"github.com/go-core-stack/benji/errors"
	"github.com/go-core-stack/benji/meta"
	"github.com/go-core-stack/benji/resource"
	"github.com/go-core-stack/benji/utils"
)

// restoreResult carries one read back block payload with its index.
type restoreResult struct {
	idx     uint64
	payload []byte
}

// Restore writes the blocks of a version back into the target image.
// Sparse blocks are skipped, the target is expected to read as zeros
// where nothing is written. With verify set every payload is checked
// against its recorded checksum before it is applied.
func (e *Engine) Restore(ctx context.Context, uid string, target io.WriterAt, verify bool) error {
	version, err := e.meta.GetVersion(ctx, uid)
	if err != nil {
		return err
	}
	if !version.Valid {
		return errors.Wrapf(errors.InvalidArgument, "version %s is not valid, refusing restore", uid)
	}

	l, err := e.acquireVersionLock(ctx, uid)
	if err != nil {
		return err
	}
	defer l.Close()

	start := time.Now()
	count := blockCount(version.Size, version.BlockSize)
	blocks, err := e.meta.BlocksByVersion(ctx, uid)
	if err != nil {
		return err
	}

	drv, err := completion.New[*restoreResult](e.readers)
	if err != nil {
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// every block index must be applied exactly once
	applied := resource.NewBitmap(count)

	var firstFault error
	var restored uint64
	apply := func(res completion.Result[*restoreResult]) {
		if res.Err != nil {
			if firstFault == nil {
				firstFault = res.Err
				cancel()
			}
			return
		}
		r := res.Value
		if applied.Set(r.idx) {
			log.Panicf("block %d applied twice during restore of %s", r.idx, uid)
		}
		offset := int64(r.idx) * int64(version.BlockSize)
		if _, err := target.WriteAt(r.payload, offset); err != nil && firstFault == nil {
			firstFault = errors.Wrapf(errors.Unknown, "failed to write block %d: %s", r.idx, err)
			cancel()
			return
		}
		restored += uint64(len(r.payload))
		utils.Notify(fmt.Sprintf("restore %s: %s", version.Name, utils.PrettyBytes(restored)))
	}

	for _, block := range blocks {
		if firstFault != nil {
			break
		}
		if block.Sparse() {
			if applied.Set(block.Idx) {
				log.Panicf("block %d applied twice during restore of %s", block.Idx, uid)
			}
			continue
		}

		for drv.Active() >= e.readers && firstFault == nil {
			dr := drv.Completions(0)
			if !dr.Next() {
				break
			}
			apply(dr.Result())
		}
		if firstFault != nil {
			break
		}

		if _, err := drv.Submit(taskCtx, e.restoreTask(block, verify)); err != nil {
			firstFault = err
			break
		}
	}

	dr := drv.Completions(0)
	for dr.Next() {
		apply(dr.Result())
	}
	if err := dr.Err(); err != nil && firstFault == nil {
		firstFault = err
	}

	if firstFault != nil {
		e.logger.Error("restore failed", "version", uid, "error", firstFault)
		return firstFault
	}
	if applied.Count() != count {
		return errors.Wrapf(errors.NotFound, "version %s restored %d of %d blocks", uid, applied.Count(), count)
	}

	e.logger.Info("restore completed",
		"version", uid,
		"name", version.Name,
		"size", utils.PrettyBytes(version.Size),
		"duration", utils.PrettyDuration(time.Since(start)))
	return nil
}

func (e *Engine) restoreTask(block *meta.Block, verify bool) completion.TaskFunc[*restoreResult] {
	b := *block
	return func(ctx context.Context) (*restoreResult, error) {
		if err := e.bucket.Take(ctx, int64(b.Size)); err != nil {
			return nil, err
		}
		payload, err := e.storage.Read(ctx, b.Uid)
		if err != nil {
			return nil, err
		}
		if uint32(len(payload)) != b.Size {
			return nil, errors.Wrapf(errors.InvalidArgument, "block %d: stored %d bytes, expected %d", b.Idx, len(payload), b.Size)
		}
		if verify {
			if checksum := e.algorithm.Hexdigest(payload); checksum != b.Checksum {
				return nil, errors.Wrapf(errors.InvalidArgument, "block %d failed verification", b.Idx)
			}
		}
		return &restoreResult{idx: b.Idx, payload: payload}, nil
	}
}

// scrubResult reports one checked block.
type scrubResult struct {
	key meta.BlockKey
	ok  bool
}

// Scrub re-reads a sample of the stored payloads of a version and
// verifies them against the recorded checksums. Ratio selects the
// sampled fraction, 1 checks everything. Corrupt blocks and the
// version are marked invalid, and the scrub fails with a count of the
// findings. Faults are findings, not aborts.
func (e *Engine) Scrub(ctx context.Context, uid string, ratio float64) error {
	if ratio <= 0 || ratio > 1 {
		return errors.Wrapf(errors.InvalidArgument, "scrub ratio must be in (0, 1], got %g", ratio)
	}
	version, err := e.meta.GetVersion(ctx, uid)
	if err != nil {
		return err
	}

	l, err := e.acquireVersionLock(ctx, uid)
	if err != nil {
		return err
	}
	defer l.Close()

	start := time.Now()
	blocks, err := e.meta.BlocksByVersion(ctx, uid)
	if err != nil {
		return err
	}

	drv, err := completion.New[*scrubResult](e.readers)
	if err != nil {
		return err
	}

	var corrupt []meta.BlockKey
	var checked uint64
	apply := func(res completion.Result[*scrubResult]) {
		if res.Err != nil {
			// faults are data, a backend outage is logged and the
			// block is left for a later scrub
			e.logger.Warn("scrub fault", "version", uid, "error", res.Err)
			return
		}
		checked++
		if !res.Value.ok {
			corrupt = append(corrupt, res.Value.key)
		}
	}

	for _, block := range blocks {
		if block.Sparse() || !block.Valid {
			continue
		}
		if ratio < 1 && rand.Float64() >= ratio {
			continue
		}

		for drv.Active() >= e.readers {
			dr := drv.Completions(0)
			if !dr.Next() {
				break
			}
			apply(dr.Result())
		}

		if _, err := drv.Submit(ctx, e.scrubTask(block)); err != nil {
			return err
		}
	}

	dr := drv.Completions(0)
	for dr.Next() {
		apply(dr.Result())
	}
	if err := dr.Err(); err != nil {
		return err
	}

	for i := range corrupt {
		key := corrupt[i]
		if err := e.meta.SetBlockValid(ctx, &key, false); err != nil {
			return err
		}
	}
	if len(corrupt) > 0 {
		if err := e.meta.SetVersionValid(ctx, uid, false); err != nil {
			return err
		}
		e.logger.Error("scrub found corruption",
			"version", uid,
			"name", version.Name,
			"corrupt", len(corrupt),
			"checked", checked)
		return errors.Wrapf(errors.InvalidArgument, "scrub of %s found %d corrupt blocks", uid, len(corrupt))
	}

	e.logger.Info("scrub completed",
		"version", uid,
		"name", version.Name,
		"checked", checked,
		"duration", utils.PrettyDuration(time.Since(start)))
	return nil
}

func (e *Engine) scrubTask(block *meta.Block) completion.TaskFunc[*scrubResult] {
	b := *block
	return func(ctx context.Context) (*scrubResult, error) {
		if err := e.bucket.Take(ctx, int64(b.Size)); err != nil {
			return nil, err
		}
		res := &scrubResult{key: meta.BlockKey{Version: b.Version, Idx: b.Idx}}
		payload, err := e.storage.Read(ctx, b.Uid)
		if err != nil {
			if errors.IsNotFound(err) || errors.IsInvalidArgument(err) {
				// missing or undecryptable object means a corrupt block
				return res, nil
			}
			return nil, err
		}
		res.ok = uint32(len(payload)) == b.Size && e.algorithm.Hexdigest(payload) == b.Checksum
		return res, nil
	}
}
