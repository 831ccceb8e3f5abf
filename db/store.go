// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Initial reference and motivation taken from
// https://gitlab.com/project-emco/core/emco-base/-/blob/main/src/orchestrator/pkg/infra/db

package db

import (
	"context"
	"reflect"
)

// WatchCallbackfn is invoked for every change observed on a collection,
// with the operation string and the decoded document key.
type WatchCallbackfn func(op string, wKey any)

// Store scopes collections inside one named database.
type Store interface {
	// Get the named collection inside this data store
	GetCollection(name string) StoreCollection

	// Name of the database backing this store
	Name() string
}

// StoreCollection is the set of operations the library performs against
// one collection of the data store.
type StoreCollection interface {
	// Register the key type used to decode watch notifications,
	// only pointer key types are supported
	SetKeyType(keyType reflect.Type) error

	// Insert one entry with the given key, fails with AlreadyExists
	// if the key is already present
	InsertOne(ctx context.Context, key any, data any) error

	// Update one entry with the given key, inserting it when upsert
	// is set, fails with NotFound otherwise when the key is absent
	UpdateOne(ctx context.Context, key any, data any, upsert bool) error

	// Find one entry by key
	FindOne(ctx context.Context, key any, data any) error

	// Find all entries matching the filter
	FindMany(ctx context.Context, filter any, data any, opts ...any) error

	// Count entries matching the filter
	Count(ctx context.Context, filter any) (int64, error)

	// Delete one entry by key
	DeleteOne(ctx context.Context, key any) error

	// Delete all entries matching the filter, returning the number
	// of entries removed
	DeleteMany(ctx context.Context, filter any) (int64, error)

	// Watch the collection for changes, invoking cb per event
	Watch(ctx context.Context, filter any, cb WatchCallbackfn) error
}

type StoreClient interface {
	// Get the Data Store interface given the client interface
	GetDataStore(dbName string) Store

	// Gets the collection for given collection name inside a database
	// specified with db name
	GetCollection(dbName, col string) StoreCollection

	// Health Check, if the Store is connectable and healthy
	// returns the status of health of the server by means of
	// error if error is nil the health of the DB store can be
	// considered healthy
	HealthCheck(ctx context.Context) error
}
