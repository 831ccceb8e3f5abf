// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package lock provides distributed advisory locks over the metadata
// store, used to serialize backup, restore and cleanup jobs working on
// the same version. Every process registers itself as an owner with a
// periodic heartbeat; locks held by an owner that stops heartbeating
// are reaped so a crashed job never wedges a version forever.
package lock

import (
	"context"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/go-core-stack/benji/db"
	"github.com/go-core-stack/benji/errors"
)

const (
	// collection name for the lock ownership table
	ownershipCollection = "lock-owners"

	// default periodic interval for updating
	// last seen time for owner, in seconds
	defaultOwnerUpdateInterval = 10

	// default number of iterations missed before
	// aging out an entry
	defaultOwnerAgeUpdateMissed = 3
)

type ownerKey struct {
	Name string `bson:"name,omitempty"`
}

type ownerData struct {
	LastSeen int64 `bson:"lastSeen,omitempty"`
}

type ownerTableType struct {
	ctx            context.Context
	store          db.Store
	col            db.StoreCollection
	name           string
	key            *ownerKey
	updateInterval time.Duration
}

func (t *ownerTableType) deleteCallback(op string, wKey any) {
	key := wKey.(*ownerKey)
	if key.Name == t.key.Name {
		log.Panicln("OwnerTable: receiving delete notification of self")
	}
}

func (t *ownerTableType) updateLastSeen() {
	data := &ownerData{
		LastSeen: time.Now().Unix(),
	}
	err := t.col.UpdateOne(context.Background(), t.key, data, false)
	if err != nil {
		log.Panicf("failed to update ownership table: %s", err)
	}
}

func (t *ownerTableType) deleteAgedOwnerTableEntries() {
	// age out owners that have missed the threshold count of
	// heartbeat updates
	filterTime := time.Now().Add(-1 * defaultOwnerAgeUpdateMissed * t.updateInterval).Unix()

	filter := bson.D{
		{
			Key:   "lastSeen",
			Value: bson.D{{Key: "$lt", Value: filterTime}},
		},
	}
	_, err := t.col.DeleteMany(t.ctx, filter)
	if err != nil && !errors.IsNotFound(err) {
		log.Printf("failed to perform delete of aged owner table entries")
	}
}

func (t *ownerTableType) allocateOwner(name string) error {
	id := name
	if id == "" {
		id = "unknown"
	}
	data := &ownerData{
		LastSeen: time.Now().Unix(),
	}
	uid := uuid.New()
	if t.key == nil {
		t.key = &ownerKey{
			Name: id + "-" + uid.String(),
		}
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

	err := t.col.SetKeyType(reflect.TypeOf(&ownerKey{}))
	if err != nil {
		return errors.Wrapf(errors.GetErrCode(err), "Got error while setting key type for watch notification: %s", err)
	}

	// watch only for delete notification
	err = t.col.Watch(t.ctx, matchDeleteStage, t.deleteCallback)
	if err != nil {
		return err
	}

	err = t.col.InsertOne(context.Background(), t.key, data)
	if err != nil {
		return err
	}

	// keep updating the last seen time periodically so the entry
	// stays active and is not aged out by peers
	go func() {
		ticker := time.NewTicker(t.updateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.updateLastSeen()
				t.deleteAgedOwnerTableEntries()
			case <-t.ctx.Done():
				// release self ownership on the way out, letting
				// peers reap our locks immediately instead of
				// waiting for the age out
				err = t.col.DeleteOne(context.Background(), t.key)
				if err != nil {
					log.Printf("failed deleting self owner entry: %s, got error: %s", t.key.Name, err)
				}
				return
			}
		}
	}()
	return nil
}

var (
	// singleton object for owner table
	ownerTable *ownerTableType

	// mutex for safe initialization of owner table
	ownerTableInit sync.Mutex
)

// InitializeOwner registers this process in the lock ownership table.
// It must be called once before any lock table is located, and every
// process sharing the store must use the same store definition for the
// reaping of orphaned locks to work.
func InitializeOwner(ctx context.Context, store db.Store, name string) error {
	return InitializeOwnerWithUpdateInterval(ctx, store, name, defaultOwnerUpdateInterval)
}

// InitializeOwnerWithUpdateInterval is InitializeOwner with a
// configurable heartbeat interval, specified in seconds.
func InitializeOwnerWithUpdateInterval(ctx context.Context, store db.Store, name string, interval time.Duration) error {
	ownerTableInit.Lock()
	defer ownerTableInit.Unlock()
	if ownerTable != nil {
		return errors.Wrap(errors.AlreadyExists, "lock owner table is already initialized")
	}

	col := store.GetCollection(ownershipCollection)

	ownerTable = &ownerTableType{
		ctx:            ctx,
		store:          store,
		col:            col,
		name:           name,
		updateInterval: time.Duration(interval * time.Second),
	}

	// allocate owner entry context
	return ownerTable.allocateOwner(name)
}
