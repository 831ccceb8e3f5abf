// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-core-stack/benji/digest"
	"github.com/go-core-stack/benji/errors"
	"github.com/go-core-stack/benji/rate"
)

const (
	readLimiterKey  = "read"
	writeLimiterKey = "write"

	// upper bound on the burst size of throttled streams, keeps
	// the wait granularity reasonable at high bandwidth settings
	maxBurst = 128 * 1024

	// pbkdf2 iteration count for deriving the object encryption key
	keyIterations = 4096

	encryptionKeyLen = 32
)

// FileConfig configures a file backend.
type FileConfig struct {
	// Root directory holding the object tree
	Root string

	// Bandwidth budget in bytes per second shared by all object
	// reads and writes, zero disables throttling
	Bandwidth int64

	// EncryptionPassword enables AES-256-GCM object encryption when
	// non empty, with the key derived from password and salt
	EncryptionPassword string
	EncryptionSalt     string
}

// FileBackend stores objects as files under a two level sharded
// directory tree derived from the object uid. Writes are atomic, an
// object is either fully present or absent.
type FileBackend struct {
	root   string
	aead   cipher.AEAD
	limits *rate.LimitManager
}

// NewFileBackend prepares the object tree root and the optional
// encryption and throttling machinery.
func NewFileBackend(cfg *FileConfig) (*FileBackend, error) {
	if cfg.Root == "" {
		return nil, errors.Wrap(errors.InvalidArgument, "storage root not configured")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, errors.Wrapf(errors.Unknown, "failed to prepare storage root: %s", err)
	}

	b := &FileBackend{
		root: cfg.Root,
	}

	if cfg.EncryptionPassword != "" {
		key := digest.DeriveKey([]byte(cfg.EncryptionPassword), []byte(cfg.EncryptionSalt), keyIterations, encryptionKeyLen)
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, errors.Wrapf(errors.InvalidArgument, "failed to set up object cipher: %s", err)
		}
		b.aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, errors.Wrapf(errors.InvalidArgument, "failed to set up object cipher: %s", err)
		}
	}

	if cfg.Bandwidth > 0 {
		burst := cfg.Bandwidth
		if burst > maxBurst {
			burst = maxBurst
		}
		b.limits = rate.NewLimitManager(cfg.Bandwidth)
		if _, err := b.limits.NewLimiter(readLimiterKey, cfg.Bandwidth, burst); err != nil {
			return nil, err
		}
		if _, err := b.limits.NewLimiter(writeLimiterKey, cfg.Bandwidth, burst); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// objectPath shards objects two directory levels deep by uid prefix,
// keeping directory fan-out bounded with many objects.
func (b *FileBackend) objectPath(uid string) (string, error) {
	if len(uid) < 4 || strings.ContainsAny(uid, "/\\") {
		return "", errors.Wrapf(errors.InvalidArgument, "invalid object uid %q", uid)
	}
	return filepath.Join(b.root, uid[0:2], uid[2:4], uid), nil
}

func (b *FileBackend) Save(ctx context.Context, uid string, data []byte) error {
	path, err := b.objectPath(uid)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(errors.Unknown, "failed to prepare object directory: %s", err)
	}

	payload := data
	if b.aead != nil {
		nonce := make([]byte, b.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return errors.Wrapf(errors.Unknown, "failed to generate object nonce: %s", err)
		}
		payload = b.aead.Seal(nonce, nonce, data, nil)
	}

	tmp, err := os.CreateTemp(b.root, ".upload-*")
	if err != nil {
		return errors.Wrapf(errors.Unknown, "failed to create temp object: %s", err)
	}
	tmpName := tmp.Name()

	var w io.WriteCloser = tmp
	if b.limits != nil {
		w, err = b.limits.WrapWriter(ctx, writeLimiterKey, tmp)
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
	}

	if _, err := w.Write(payload); err != nil {
		w.Close()
		os.Remove(tmpName)
		return errors.Wrapf(errors.Unknown, "failed to write object %s: %s", uid, err)
	}
	if err := tmp.Sync(); err != nil {
		w.Close()
		os.Remove(tmpName)
		return errors.Wrapf(errors.Unknown, "failed to sync object %s: %s", uid, err)
	}
	if err := w.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(errors.Unknown, "failed to close object %s: %s", uid, err)
	}

	// the object becomes visible in one step
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(errors.Unknown, "failed to commit object %s: %s", uid, err)
	}
	return nil
}

func (b *FileBackend) Read(ctx context.Context, uid string) ([]byte, error) {
	path, err := b.objectPath(uid)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.NotFound, "object %s not found", uid)
		}
		return nil, errors.Wrapf(errors.Unknown, "failed to open object %s: %s", uid, err)
	}

	var r io.ReadCloser = f
	if b.limits != nil {
		r, err = b.limits.WrapReader(ctx, readLimiterKey, f)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	payload, err := io.ReadAll(r)
	cerr := r.Close()
	if err != nil {
		return nil, errors.Wrapf(errors.Unknown, "failed to read object %s: %s", uid, err)
	}
	if cerr != nil {
		return nil, errors.Wrapf(errors.Unknown, "failed to close object %s: %s", uid, cerr)
	}

	if b.aead != nil {
		if len(payload) < b.aead.NonceSize() {
			return nil, errors.Wrapf(errors.InvalidArgument, "object %s is truncated", uid)
		}
		nonce := payload[:b.aead.NonceSize()]
		data, err := b.aead.Open(nil, nonce, payload[b.aead.NonceSize():], nil)
		if err != nil {
			return nil, errors.Wrapf(errors.InvalidArgument, "failed to decrypt object %s: %s", uid, err)
		}
		return data, nil
	}
	return payload, nil
}

func (b *FileBackend) Remove(ctx context.Context, uid string) error {
	path, err := b.objectPath(uid)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(errors.NotFound, "object %s not found", uid)
		}
		return errors.Wrapf(errors.Unknown, "failed to remove object %s: %s", uid, err)
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}

var _ Backend = (*FileBackend)(nil)
