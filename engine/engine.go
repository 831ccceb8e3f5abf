// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package engine orchestrates backup, restore, scrub and delete jobs
// over the metadata store and the object storage backend. Block work
// runs through a bounded completion driver, with an optional token
// bucket self-throttling the aggregate block throughput.
package engine

import (
	"context"
	"log/slog"

	"github.com/go-core-stack/benji/config"
	"github.com/go-core-stack/benji/digest"
	"github.com/go-core-stack/benji/errors"
	"github.com/go-core-stack/benji/lock"
	"github.com/go-core-stack/benji/meta"
	"github.com/go-core-stack/benji/rate"
	"github.com/go-core-stack/benji/storage"
	"github.com/go-core-stack/benji/utils"
)

// Engine runs backup jobs against one metadata store and one storage
// backend. It is safe for concurrent use, every job carries its own
// completion driver and shares only the throttle bucket.
type Engine struct {
	meta      meta.Store
	storage   storage.Backend
	algorithm *digest.Algorithm
	bucket    *rate.Bucket
	locks     *lock.LockTable
	logger    *slog.Logger
	blockSize uint32
	readers   int
	writers   int
}

// New builds an engine from the validated configuration.
func New(store meta.Store, backend storage.Backend, cfg *config.Config) (*Engine, error) {
	algorithm, err := digest.Resolve(cfg.HashFunction)
	if err != nil {
		return nil, err
	}
	bucket := rate.NewBucket()
	bucket.SetRate(float64(cfg.Throttle))

	utils.SetProcessName(cfg.ProcessName)

	return &Engine{
		meta:      store,
		storage:   backend,
		algorithm: algorithm,
		bucket:    bucket,
		logger:    slog.Default(),
		blockSize: cfg.BlockSize,
		readers:   cfg.SimultaneousReads,
		writers:   cfg.SimultaneousWrites,
	}, nil
}

// SetLogger replaces the engine logger, defaulting to slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetLockTable enables distributed per-version job locking. Without a
// lock table the engine only serializes within the process.
func (e *Engine) SetLockTable(tbl *lock.LockTable) {
	e.locks = tbl
}

// SetThrottle reconfigures the aggregate block throughput limit in
// bytes per second, zero disables throttling. Takes effect for jobs
// started afterwards and running jobs alike.
func (e *Engine) SetThrottle(bytesPerSecond int64) {
	e.bucket.SetRate(float64(bytesPerSecond))
}

// ApplyConfig applies the reloadable subset of a new configuration to
// the running engine, suitable as a config.Watch callback. Worker
// counts, block size and hash function stay fixed for the lifetime of
// the engine.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.SetThrottle(cfg.Throttle)
	e.logger.Info("configuration applied", "throttle", cfg.Throttle)
}

type noopLock struct{}

func (noopLock) Close() error { return nil }

func (e *Engine) acquireVersionLock(ctx context.Context, uid string) (lock.Lock, error) {
	if e.locks == nil {
		return noopLock{}, nil
	}
	l, err := e.locks.TryAcquire(ctx, &lock.VersionLockKey{Uid: uid})
	if err != nil {
		if errors.IsAlreadyExists(err) {
			return nil, errors.Wrapf(errors.AlreadyExists, "version %s is locked by another job", uid)
		}
		return nil, err
	}
	return l, nil
}

// ProtectVersion guards a version against deletion.
func (e *Engine) ProtectVersion(ctx context.Context, uid string, protect bool) error {
	return e.meta.SetVersionProtected(ctx, uid, protect)
}

// DeleteVersion removes the version row, leaving block rows and
// stored objects to the cleanup sweep. Protected versions are
// refused.
func (e *Engine) DeleteVersion(ctx context.Context, uid string) error {
	version, err := e.meta.GetVersion(ctx, uid)
	if err != nil {
		return err
	}
	if version.Protected {
		return errors.Wrapf(errors.InvalidArgument, "version %s is protected", uid)
	}

	l, err := e.acquireVersionLock(ctx, uid)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := e.meta.DeleteVersion(ctx, uid); err != nil {
		return err
	}
	e.logger.Info("version deleted", "version", uid, "name", version.Name)
	return nil
}

// blockLength returns the payload length of a block, the tail block
// covers only the remainder of the image.
func (e *Engine) blockLength(size uint64, idx uint64) uint32 {
	offset := idx * uint64(e.blockSize)
	if remain := size - offset; remain < uint64(e.blockSize) {
		return uint32(remain)
	}
	return e.blockSize
}

func blockCount(size uint64, blockSize uint32) uint64 {
	return (size + uint64(blockSize) - 1) / uint64(blockSize)
}
