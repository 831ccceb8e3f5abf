// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package digest resolves configuration strings like "sha512" or
// "blake2b,digest_size=32,key=<hex>" into ready-to-use hash algorithms
// for block checksumming, and derives storage encryption keys.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/pbkdf2"

	"github.com/go-core-stack/benji/errors"
)

// MaxChecksumLength is the widest digest the block metadata schema can
// hold, in bytes. Resolving an algorithm with a longer digest is a
// configuration error.
const MaxChecksumLength = 64

// Algorithm is a resolved, possibly keyed hash function. Hash instances
// are not safe for concurrent use, so every use gets a fresh one via New.
type Algorithm struct {
	name    string
	size    int
	factory func() hash.Hash
}

// New returns a fresh hash instance of the algorithm.
func (a *Algorithm) New() hash.Hash {
	return a.factory()
}

// Sum returns the digest of data.
func (a *Algorithm) Sum(data []byte) []byte {
	h := a.factory()
	h.Write(data)
	return h.Sum(nil)
}

// Hexdigest returns the hex-encoded digest of data, the form stored in
// block metadata.
func (a *Algorithm) Hexdigest(data []byte) string {
	return hex.EncodeToString(a.Sum(data))
}

// Size returns the digest size in bytes.
func (a *Algorithm) Size() int {
	return a.size
}

func (a *Algorithm) String() string {
	return a.name
}

type hashArgs struct {
	digestSize int
	key        []byte
}

func parseArgs(name string, pairs []string) (*hashArgs, error) {
	args := &hashArgs{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Wrapf(errors.InvalidArgument,
				"malformed hash argument %q, expected k=v", pair)
		}
		switch k {
		case "digest_size":
			size, err := strconv.Atoi(v)
			if err != nil || size < 1 {
				return nil, errors.Wrapf(errors.InvalidArgument,
					"invalid digest_size %q for hash function %s", v, name)
			}
			args.digestSize = size
		case "key":
			key, err := hex.DecodeString(v)
			if err != nil {
				return nil, errors.Wrapf(errors.InvalidArgument,
					"invalid hex key for hash function %s: %s", name, err)
			}
			args.key = key
		default:
			return nil, errors.Wrapf(errors.InvalidArgument,
				"unsupported argument %q for hash function %s", k, name)
		}
	}
	return args, nil
}

// fixed algorithms take no arguments
var fixed = map[string]struct {
	size    int
	factory func() hash.Hash
}{
	"md5":    {md5.Size, md5.New},
	"sha1":   {sha1.Size, sha1.New},
	"sha224": {sha256.Size224, sha256.New224},
	"sha256": {sha256.Size, sha256.New},
	"sha384": {sha512.Size384, sha512.New384},
	"sha512": {sha512.Size, sha512.New},
}

// Resolve parses a hash specification string and returns the configured
// algorithm. The first comma-separated token is the algorithm name, the
// remaining tokens are k=v arguments. Unknown names, unsupported
// arguments and digests wider than MaxChecksumLength are configuration
// errors surfaced as InvalidArgument.
func Resolve(spec string) (*Algorithm, error) {
	name, rest, hasArgs := strings.Cut(spec, ",")
	name = strings.TrimSpace(name)
	var pairs []string
	if hasArgs {
		pairs = strings.Split(rest, ",")
	}

	args, err := parseArgs(name, pairs)
	if err != nil {
		return nil, err
	}

	var alg *Algorithm
	switch name {
	case "blake2b":
		size := args.digestSize
		if size == 0 {
			size = blake2b.Size
		}
		key := args.key
		// validate the configuration once up front, the factory below
		// can then construct instances without a second error path
		if _, err := blake2b.New(size, key); err != nil {
			return nil, errors.Wrapf(errors.InvalidArgument,
				"invalid blake2b configuration: %s", err)
		}
		alg = &Algorithm{
			name: spec,
			size: size,
			factory: func() hash.Hash {
				h, _ := blake2b.New(size, key)
				return h
			},
		}
	case "blake2s":
		if args.digestSize != 0 && args.digestSize != blake2s.Size {
			return nil, errors.Wrapf(errors.InvalidArgument,
				"blake2s only supports a digest_size of %d", blake2s.Size)
		}
		key := args.key
		if _, err := blake2s.New256(key); err != nil {
			return nil, errors.Wrapf(errors.InvalidArgument,
				"invalid blake2s configuration: %s", err)
		}
		alg = &Algorithm{
			name: spec,
			size: blake2s.Size,
			factory: func() hash.Hash {
				h, _ := blake2s.New256(key)
				return h
			},
		}
	default:
		f, ok := fixed[name]
		if !ok {
			return nil, errors.Wrapf(errors.InvalidArgument,
				"unsupported hash function %q", name)
		}
		if len(pairs) != 0 {
			return nil, errors.Wrapf(errors.InvalidArgument,
				"hash function %s takes no arguments", name)
		}
		alg = &Algorithm{
			name:    name,
			size:    f.size,
			factory: f.factory,
		}
	}

	if alg.size > MaxChecksumLength {
		return nil, errors.Wrapf(errors.InvalidArgument,
			"hash function %q exceeds maximum digest length of %d", name, MaxChecksumLength)
	}
	return alg, nil
}

// DeriveKey derives an encryption key from a password and salt using
// PBKDF2 with HMAC-SHA512.
func DeriveKey(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha512.New)
}
