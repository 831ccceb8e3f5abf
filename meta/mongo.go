// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package meta

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/go-core-stack/benji/db"
	"github.com/go-core-stack/benji/errors"
	"github.com/go-core-stack/benji/reconciler"
	"github.com/go-core-stack/benji/table"
	"github.com/go-core-stack/benji/utils"
)

const (
	versionsCollection = "versions"
	blocksCollection   = "blocks"
)

// MongoStore is the Store implementation over the generic table
// machinery, hosting the versions and blocks collections.
type MongoStore struct {
	versions table.Table[VersionKey, Version]
	blocks   table.Table[BlockKey, Block]
	verCol   db.StoreCollection
}

// NewMongoStore initializes the metadata tables inside the given data
// store.
func NewMongoStore(store db.Store) (*MongoStore, error) {
	s := &MongoStore{
		verCol: store.GetCollection(versionsCollection),
	}
	if err := s.versions.Initialize(s.verCol); err != nil {
		return nil, err
	}
	if err := s.blocks.Initialize(store.GetCollection(blocksCollection)); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterCleanup registers a controller reconciling version changes,
// typically the cleanup controller sweeping deleted versions.
func (s *MongoStore) RegisterCleanup(name string, crtl reconciler.Controller) error {
	return s.versions.Register(name, crtl)
}

// StartAuditLog audit-logs every change on the versions collection,
// tracing backup lifecycle operations. Requires a mongo backed store.
func (s *MongoStore) StartAuditLog(ctx context.Context) error {
	logger := db.NewEventLogger[VersionKey, Version](s.verCol, nil)
	return logger.Start(ctx)
}

func (s *MongoStore) InsertVersion(ctx context.Context, version *Version) error {
	if !utils.IsValidName(version.Name) {
		return errors.Wrapf(errors.InvalidArgument, "invalid version name %q", version.Name)
	}
	if version.Uid == "" {
		version.Uid = uuid.New().String()
	}
	if version.Date == 0 {
		version.Date = time.Now().Unix()
	}
	return s.versions.Insert(ctx, &VersionKey{Uid: version.Uid}, version)
}

func (s *MongoStore) GetVersion(ctx context.Context, uid string) (*Version, error) {
	return s.versions.Find(ctx, &VersionKey{Uid: uid})
}

func (s *MongoStore) updateVersion(ctx context.Context, uid string, mutate func(v *Version)) error {
	key := &VersionKey{Uid: uid}
	version, err := s.versions.Find(ctx, key)
	if err != nil {
		return err
	}
	mutate(version)
	return s.versions.Update(ctx, key, version)
}

func (s *MongoStore) SetVersionValid(ctx context.Context, uid string, valid bool) error {
	return s.updateVersion(ctx, uid, func(v *Version) {
		v.Valid = valid
	})
}

func (s *MongoStore) SetVersionChecksum(ctx context.Context, uid string, checksum string) error {
	return s.updateVersion(ctx, uid, func(v *Version) {
		v.Checksum = checksum
	})
}

func (s *MongoStore) SetVersionProtected(ctx context.Context, uid string, protected bool) error {
	return s.updateVersion(ctx, uid, func(v *Version) {
		v.Protected = protected
	})
}

func (s *MongoStore) ListVersions(ctx context.Context) ([]*Version, error) {
	list, err := s.versions.FindMany(ctx, nil)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return list, nil
}

func (s *MongoStore) DeleteVersion(ctx context.Context, uid string) error {
	return s.versions.DeleteKey(ctx, &VersionKey{Uid: uid})
}

func (s *MongoStore) UpsertBlock(ctx context.Context, key *BlockKey, block *Block) error {
	// keep the row self describing for filtered lookups
	block.Version = key.Version
	block.Idx = key.Idx
	return s.blocks.Locate(ctx, key, block)
}

func (s *MongoStore) GetBlock(ctx context.Context, key *BlockKey) (*Block, error) {
	return s.blocks.Find(ctx, key)
}

func (s *MongoStore) BlocksByVersion(ctx context.Context, uid string) ([]*Block, error) {
	filter := bson.D{{Key: "version", Value: uid}}
	list, err := s.blocks.FindMany(ctx, filter)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return list, nil
}

func (s *MongoStore) SetBlockValid(ctx context.Context, key *BlockKey, valid bool) error {
	block, err := s.blocks.Find(ctx, key)
	if err != nil {
		return err
	}
	block.Valid = valid
	return s.blocks.Update(ctx, key, block)
}

func (s *MongoStore) DeleteBlocksByVersion(ctx context.Context, uid string) (int64, error) {
	filter := bson.D{{Key: "version", Value: uid}}
	count, err := s.blocks.DeleteMany(ctx, filter)
	if err != nil {
		if errors.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

func (s *MongoStore) FindBlockByChecksum(ctx context.Context, checksum string) (*Block, error) {
	if checksum == "" {
		return nil, errors.Wrap(errors.InvalidArgument, "empty checksum")
	}
	filter := bson.D{
		{Key: "checksum", Value: checksum},
		{Key: "valid", Value: true},
	}
	list, err := s.blocks.FindMany(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(errors.NotFound, "no valid block with checksum %s", checksum)
	}
	return list[0], nil
}

func (s *MongoStore) CountBlocksByObject(ctx context.Context, uid string) (int64, error) {
	if uid == "" {
		return 0, errors.Wrap(errors.InvalidArgument, "empty object uid")
	}
	filter := bson.D{{Key: "uid", Value: uid}}
	return s.blocks.Count(ctx, filter)
}

var _ Store = (*MongoStore)(nil)
