// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package lock

import (
	"context"
	"log"
	"reflect"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/go-core-stack/benji/db"
	"github.com/go-core-stack/benji/errors"
)

const (
	// collection holding per-version job locks
	versionLockCollection = "version-locks"
)

var (
	// map for holding initialized lock tables
	lockTables map[lockTableKey]*LockTable = make(map[lockTableKey]*LockTable)

	// mutex for securing lockTable Map
	muLockTables sync.Mutex
)

type lockTableKey struct {
	DbName  string
	ColName string
}

// VersionLockKey identifies the lock row serializing jobs on one
// backup version.
type VersionLockKey struct {
	Uid string `bson:"uid,omitempty"`
}

// Lock is a held advisory lock, released with Close.
type Lock interface {
	Close() error
}

type lockImpl struct {
	key any
	tbl *LockTable
}

func (l *lockImpl) Close() error {
	return l.tbl.col.DeleteOne(context.Background(), l.key)
}

type lockData struct {
	CreateTime int64  `bson:"createTime,omitempty"`
	Owner      string `bson:"owner,omitempty"`
}

// LockTable hosts the locks of one collection. Lock rows record their
// owning process, so when an owner ages out or releases, its locks are
// reaped by whichever peer observes the owner deletion.
type LockTable struct {
	// collection name hosting locks for the table
	colName string

	// collection object for the database store
	col db.StoreCollection

	// context in which this lock table is being working on
	ctx context.Context

	// Context cancel function
	cancelFn context.CancelFunc
}

func (t *LockTable) callback(op string, wKey any) {
	// a lock change landed, verify the owner recorded on the lock is
	// still alive and reap the owner's locks otherwise
	data := &lockData{}
	err := t.col.FindOne(context.Background(), wKey, data)
	if err != nil {
		if errors.IsNotFound(err) {
			return
		}
		log.Panicln("failed to find lock entry corresponding to key", wKey)
	}

	oKey := &ownerKey{
		Name: data.Owner,
	}
	oData := &ownerData{}
	err = ownerTable.col.FindOne(context.Background(), oKey, oData)
	if err != nil {
		if errors.IsNotFound(err) {
			filter := bson.D{{
				Key:   "owner",
				Value: oKey.Name,
			}}
			_, err := t.col.DeleteMany(t.ctx, filter)
			if err != nil && !errors.IsNotFound(err) {
				log.Panicf("failed to perform delete of locks for owner %s, got error: %s", oKey.Name, err)
			}
		}
	}
}

func (t *LockTable) handleOwnerRelease(op string, wKey any) {
	key := wKey.(*ownerKey)

	filter := bson.D{{
		Key:   "owner",
		Value: key.Name,
	}}
	_, err := t.col.DeleteMany(t.ctx, filter)
	if err != nil && !errors.IsNotFound(err) {
		log.Panicf("failed to perform delete of locks for owner %s, got error: %s", key.Name, err)
	}
}

// TryAcquire attempts to take the lock for the given key without
// blocking. It fails with AlreadyExists when another job holds it.
func (t *LockTable) TryAcquire(ctx context.Context, key any) (Lock, error) {
	// if owner table is not initialized, then lock infra cannot be used
	if ownerTable == nil || ownerTable.key == nil {
		return nil, errors.Wrap(errors.InvalidArgument, "owner infra for lock is not initialized")
	}

	data := &lockData{
		CreateTime: time.Now().Unix(),
		Owner:      ownerTable.key.Name,
	}

	err := t.col.InsertOne(ctx, key, data)
	if err != nil {
		return nil, err
	}

	return &lockImpl{
		key: key,
		tbl: t,
	}, nil
}

// LocateVersionLockTable returns the lock table serializing jobs per
// backup version, locating it on first use.
func LocateVersionLockTable(store db.Store) (*LockTable, error) {
	return LocateLockTable[VersionLockKey](store, versionLockCollection)
}

// LocateLockTable returns the lock table hosted on the named
// collection, creating it on first use. K is the key type lock rows
// are keyed with, registered with the collection so watch events
// decode into it.
func LocateLockTable[K any](store db.Store, name string) (*LockTable, error) {
	muLockTables.Lock()
	defer muLockTables.Unlock()

	table, ok := lockTables[lockTableKey{store.Name(), name}]
	if !ok {
		// ensure owner table is initialized before proceeding further
		if ownerTable == nil {
			return nil, errors.Wrap(errors.InvalidArgument, "Mandatory! owner table infra not initialized")
		}

		ctx, cancelFn := context.WithCancel(ownerTable.ctx)

		// no existing table found, allocate a new one
		col := store.GetCollection(name)
		table = &LockTable{
			colName:  name,
			col:      col,
			ctx:      ctx,
			cancelFn: cancelFn,
		}

		err := col.SetKeyType(reflect.TypeOf((*K)(nil)))
		if err != nil {
			cancelFn()
			return nil, err
		}

		matchDeleteStage := mongo.Pipeline{
			bson.D{{
				Key: "$match",
				Value: bson.D{{
					Key:   "operationType",
					Value: "delete",
				}},
			}},
		}

		// watch only for delete notification of lock owner
		err = ownerTable.col.Watch(ctx, matchDeleteStage, table.handleOwnerRelease)
		if err != nil {
			cancelFn()
			return nil, err
		}

		// register to watch for locks, this is relevant for external
		// notification and cleanup as part of handling of release of owners
		err = table.col.Watch(ctx, nil, table.callback)
		if err != nil {
			cancelFn()
			return nil, err
		}

		lockTables[lockTableKey{store.Name(), name}] = table
	}

	return table, nil
}
