// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package meta

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/go-core-stack/benji/db"
	"github.com/go-core-stack/benji/errors"
)

// memStore is an in-memory db.Store with equality filter support,
// moving documents through bson the way the mongo driver does.
type memStore struct {
	mu   sync.Mutex
	name string
	cols map[string]*memCollection
}

func newMemStore(name string) *memStore {
	return &memStore{
		name: name,
		cols: map[string]*memCollection{},
	}
}

func (s *memStore) GetCollection(name string) db.StoreCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.cols[name]
	if !ok {
		col = &memCollection{docs: map[string][]byte{}}
		s.cols[name] = col
	}
	return col
}

func (s *memStore) Name() string {
	return s.name
}

type memCollection struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (c *memCollection) keyString(key any) string {
	kb, err := bson.Marshal(key)
	if err != nil {
		panic(err)
	}
	return string(kb)
}

func (c *memCollection) encode(key any, data any) []byte {
	raw, err := bson.Marshal(data)
	if err != nil {
		panic(err)
	}
	doc := bson.D{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		panic(err)
	}
	doc = append(doc, bson.E{Key: "_id", Value: key})
	out, err := bson.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return out
}

// lookup resolves a possibly dotted field path inside a decoded doc.
func lookup(doc bson.D, path string) any {
	key, rest, nested := strings.Cut(path, ".")
	for _, e := range doc {
		if e.Key != key {
			continue
		}
		if !nested {
			return e.Value
		}
		if sub, ok := e.Value.(bson.D); ok {
			return lookup(sub, rest)
		}
		return nil
	}
	return nil
}

func (c *memCollection) matches(filter any, raw []byte) bool {
	if filter == nil {
		return true
	}
	fb, err := bson.Marshal(filter)
	if err != nil {
		panic(err)
	}
	fd := bson.D{}
	if err := bson.Unmarshal(fb, &fd); err != nil {
		panic(err)
	}
	doc := bson.D{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		panic(err)
	}
	for _, e := range fd {
		if !reflect.DeepEqual(lookup(doc, e.Key), e.Value) {
			return false
		}
	}
	return true
}

func (c *memCollection) SetKeyType(keyType reflect.Type) error {
	if keyType.Kind() != reflect.Ptr {
		return errors.Wrap(errors.InvalidArgument, "key type is not a pointer")
	}
	return nil
}

func (c *memCollection) InsertOne(ctx context.Context, key any, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks := c.keyString(key)
	if _, ok := c.docs[ks]; ok {
		return errors.Wrap(errors.AlreadyExists, "duplicate key")
	}
	c.docs[ks] = c.encode(key, data)
	return nil
}

func (c *memCollection) UpdateOne(ctx context.Context, key any, data any, upsert bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks := c.keyString(key)
	if _, ok := c.docs[ks]; !ok && !upsert {
		return errors.Wrap(errors.NotFound, "No Document found")
	}
	c.docs[ks] = c.encode(key, data)
	return nil
}

func (c *memCollection) FindOne(ctx context.Context, key any, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.docs[c.keyString(key)]
	if !ok {
		return errors.Wrap(errors.NotFound, "No Document found")
	}
	return bson.Unmarshal(raw, data)
}

func (c *memCollection) FindMany(ctx context.Context, filter any, data any, opts ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	slicePtr := reflect.ValueOf(data)
	sliceVal := slicePtr.Elem()
	elemType := sliceVal.Type().Elem()
	for _, raw := range c.docs {
		if !c.matches(filter, raw) {
			continue
		}
		var ev reflect.Value
		if elemType.Kind() == reflect.Ptr {
			ev = reflect.New(elemType.Elem())
		} else {
			ev = reflect.New(elemType)
		}
		if err := bson.Unmarshal(raw, ev.Interface()); err != nil {
			return err
		}
		if elemType.Kind() == reflect.Ptr {
			sliceVal = reflect.Append(sliceVal, ev)
		} else {
			sliceVal = reflect.Append(sliceVal, ev.Elem())
		}
	}
	slicePtr.Elem().Set(sliceVal)
	return nil
}

func (c *memCollection) Count(ctx context.Context, filter any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, raw := range c.docs {
		if c.matches(filter, raw) {
			n++
		}
	}
	return n, nil
}

func (c *memCollection) DeleteOne(ctx context.Context, key any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks := c.keyString(key)
	if _, ok := c.docs[ks]; !ok {
		return errors.Wrap(errors.NotFound, "No Document found")
	}
	delete(c.docs, ks)
	return nil
}

func (c *memCollection) DeleteMany(ctx context.Context, filter any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for ks, raw := range c.docs {
		if c.matches(filter, raw) {
			delete(c.docs, ks)
			n++
		}
	}
	if n == 0 {
		return 0, errors.Wrap(errors.NotFound, "No matching entries found to delete")
	}
	return n, nil
}

func (c *memCollection) Watch(ctx context.Context, filter any, cb db.WatchCallbackfn) error {
	return nil
}

func newTestStore(t *testing.T) *MongoStore {
	t.Helper()
	s, err := NewMongoStore(newMemStore("test-meta"))
	if err != nil {
		t.Fatalf("failed to create meta store: %s", err)
	}
	return s
}

func Test_VersionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := &Version{Name: "../escape", Size: 10, BlockSize: 4}
	if err := s.InsertVersion(ctx, bad); err == nil || !errors.IsInvalidArgument(err) {
		t.Fatalf("expected invalid name to be rejected, got %v", err)
	}

	version := &Version{Name: "daily-backup", Snapshot: "snap-1", Size: 1 << 20, BlockSize: 1 << 16}
	if err := s.InsertVersion(ctx, version); err != nil {
		t.Fatalf("failed to insert version: %s", err)
	}
	if version.Uid == "" {
		t.Fatalf("expected uid to be assigned on insert")
	}
	if version.Date == 0 {
		t.Fatalf("expected date to be assigned on insert")
	}

	got, err := s.GetVersion(ctx, version.Uid)
	if err != nil {
		t.Fatalf("failed to get version: %s", err)
	}
	if got.Name != "daily-backup" || got.Valid {
		t.Fatalf("unexpected version row: %+v", got)
	}

	if err := s.SetVersionValid(ctx, version.Uid, true); err != nil {
		t.Fatalf("failed to mark version valid: %s", err)
	}
	if err := s.SetVersionChecksum(ctx, version.Uid, "cafebabe"); err != nil {
		t.Fatalf("failed to set version checksum: %s", err)
	}
	if err := s.SetVersionProtected(ctx, version.Uid, true); err != nil {
		t.Fatalf("failed to protect version: %s", err)
	}

	got, err = s.GetVersion(ctx, version.Uid)
	if err != nil {
		t.Fatalf("failed to get version: %s", err)
	}
	if !got.Valid || !got.Protected || got.Checksum != "cafebabe" {
		t.Fatalf("version flags not persisted: %+v", got)
	}

	list, err := s.ListVersions(ctx)
	if err != nil {
		t.Fatalf("failed to list versions: %s", err)
	}
	if len(list) != 1 {
		t.Fatalf("listed versions: got %d want 1", len(list))
	}

	if err := s.DeleteVersion(ctx, version.Uid); err != nil {
		t.Fatalf("failed to delete version: %s", err)
	}
	if _, err := s.GetVersion(ctx, version.Uid); err == nil || !errors.IsNotFound(err) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
	if err := s.SetVersionValid(ctx, version.Uid, false); err == nil || !errors.IsNotFound(err) {
		t.Fatalf("expected NotFound updating deleted version, got %v", err)
	}
}

func Test_BlockRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blocks := []struct {
		key BlockKey
		blk Block
	}{
		{BlockKey{Version: "v1", Idx: 0}, Block{Uid: "obj-0", Checksum: "aa", Size: 64, Valid: true}},
		{BlockKey{Version: "v1", Idx: 1}, Block{}}, // sparse
		{BlockKey{Version: "v1", Idx: 2}, Block{Uid: "obj-2", Checksum: "bb", Size: 64, Valid: false}},
		{BlockKey{Version: "v2", Idx: 0}, Block{Uid: "obj-3", Checksum: "cc", Size: 64, Valid: true}},
	}
	for i := range blocks {
		if err := s.UpsertBlock(ctx, &blocks[i].key, &blocks[i].blk); err != nil {
			t.Fatalf("failed to upsert block %d: %s", i, err)
		}
	}

	got, err := s.GetBlock(ctx, &BlockKey{Version: "v1", Idx: 0})
	if err != nil {
		t.Fatalf("failed to get block: %s", err)
	}
	if got.Uid != "obj-0" || got.Version != "v1" || got.Idx != 0 {
		t.Fatalf("unexpected block row: %+v", got)
	}

	sparse, err := s.GetBlock(ctx, &BlockKey{Version: "v1", Idx: 1})
	if err != nil {
		t.Fatalf("failed to get sparse block: %s", err)
	}
	if !sparse.Sparse() {
		t.Fatalf("expected sparse block, got %+v", sparse)
	}

	v1, err := s.BlocksByVersion(ctx, "v1")
	if err != nil {
		t.Fatalf("failed to list blocks of v1: %s", err)
	}
	if len(v1) != 3 {
		t.Fatalf("blocks of v1: got %d want 3", len(v1))
	}

	// dedup probe only matches valid rows
	if _, err := s.FindBlockByChecksum(ctx, "bb"); err == nil || !errors.IsNotFound(err) {
		t.Fatalf("expected invalid block to be skipped by dedup probe, got %v", err)
	}
	hit, err := s.FindBlockByChecksum(ctx, "aa")
	if err != nil {
		t.Fatalf("failed dedup probe for valid checksum: %s", err)
	}
	if hit.Uid != "obj-0" {
		t.Fatalf("dedup probe hit wrong block: %+v", hit)
	}
	if _, err := s.FindBlockByChecksum(ctx, ""); err == nil || !errors.IsInvalidArgument(err) {
		t.Fatalf("expected empty checksum probe to fail, got %v", err)
	}

	if err := s.SetBlockValid(ctx, &BlockKey{Version: "v1", Idx: 0}, false); err != nil {
		t.Fatalf("failed to invalidate block: %s", err)
	}
	if _, err := s.FindBlockByChecksum(ctx, "aa"); err == nil || !errors.IsNotFound(err) {
		t.Fatalf("expected invalidated block to be skipped, got %v", err)
	}

	count, err := s.DeleteBlocksByVersion(ctx, "v1")
	if err != nil {
		t.Fatalf("failed to delete blocks of v1: %s", err)
	}
	if count != 3 {
		t.Fatalf("deleted blocks: got %d want 3", count)
	}
	v2, err := s.BlocksByVersion(ctx, "v2")
	if err != nil {
		t.Fatalf("failed to list blocks of v2: %s", err)
	}
	if len(v2) != 1 {
		t.Fatalf("blocks of v2 after v1 sweep: got %d want 1", len(v2))
	}
}

type recordingRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingRemover) Remove(ctx context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, uid)
	return nil
}

func Test_CleanupSweepsDeletedVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	version := &Version{Name: "weekly", Size: 1 << 20, BlockSize: 1 << 16}
	if err := s.InsertVersion(ctx, version); err != nil {
		t.Fatalf("failed to insert version: %s", err)
	}
	rows := []Block{
		{Uid: "obj-a", Checksum: "aa", Size: 64, Valid: true},
		{}, // sparse
		{Uid: "obj-b", Checksum: "bb", Size: 64, Valid: true},
	}
	for i := range rows {
		key := &BlockKey{Version: version.Uid, Idx: uint64(i)}
		if err := s.UpsertBlock(ctx, key, &rows[i]); err != nil {
			t.Fatalf("failed to upsert block %d: %s", i, err)
		}
	}

	remover := &recordingRemover{}
	crtl := NewCleanupController(s, remover)

	// version still present, reconcile must not sweep
	if _, err := crtl.Reconcile(&VersionKey{Uid: version.Uid}); err != nil {
		t.Fatalf("reconcile of live version failed: %s", err)
	}
	if len(remover.removed) != 0 {
		t.Fatalf("live version swept: removed %v", remover.removed)
	}

	if err := s.DeleteVersion(ctx, version.Uid); err != nil {
		t.Fatalf("failed to delete version: %s", err)
	}
	if _, err := crtl.Reconcile(&VersionKey{Uid: version.Uid}); err != nil {
		t.Fatalf("reconcile of deleted version failed: %s", err)
	}

	if len(remover.removed) != 2 {
		t.Fatalf("removed objects: got %v want 2 entries", remover.removed)
	}
	left, err := s.BlocksByVersion(ctx, version.Uid)
	if err != nil {
		t.Fatalf("failed to list leftover blocks: %s", err)
	}
	if len(left) != 0 {
		t.Fatalf("leftover blocks after sweep: %d", len(left))
	}

	// sweep of an already clean version is a no-op
	if _, err := crtl.Reconcile(&VersionKey{Uid: version.Uid}); err != nil {
		t.Fatalf("repeat reconcile failed: %s", err)
	}
}

func Test_CleanupKeepsSharedObjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &Version{Name: "monday", Size: 1 << 20, BlockSize: 1 << 16}
	if err := s.InsertVersion(ctx, first); err != nil {
		t.Fatalf("failed to insert first version: %s", err)
	}
	second := &Version{Name: "tuesday", Size: 1 << 20, BlockSize: 1 << 16}
	if err := s.InsertVersion(ctx, second); err != nil {
		t.Fatalf("failed to insert second version: %s", err)
	}

	// both versions reference the same deduplicated object, the
	// first also carries one of its own
	rows := []struct {
		key BlockKey
		blk Block
	}{
		{BlockKey{Version: first.Uid, Idx: 0}, Block{Uid: "obj-shared", Checksum: "aa", Size: 64, Valid: true}},
		{BlockKey{Version: first.Uid, Idx: 1}, Block{Uid: "obj-own", Checksum: "bb", Size: 64, Valid: true}},
		{BlockKey{Version: second.Uid, Idx: 0}, Block{Uid: "obj-shared", Checksum: "aa", Size: 64, Valid: true}},
	}
	for i := range rows {
		if err := s.UpsertBlock(ctx, &rows[i].key, &rows[i].blk); err != nil {
			t.Fatalf("failed to upsert block %d: %s", i, err)
		}
	}

	if _, err := s.CountBlocksByObject(ctx, ""); err == nil || !errors.IsInvalidArgument(err) {
		t.Fatalf("expected empty object uid to be rejected, got %v", err)
	}
	refs, err := s.CountBlocksByObject(ctx, "obj-shared")
	if err != nil {
		t.Fatalf("failed to count object references: %s", err)
	}
	if refs != 2 {
		t.Fatalf("references of obj-shared: got %d want 2", refs)
	}

	remover := &recordingRemover{}
	crtl := NewCleanupController(s, remover)

	if err := s.DeleteVersion(ctx, first.Uid); err != nil {
		t.Fatalf("failed to delete first version: %s", err)
	}
	if _, err := crtl.Reconcile(&VersionKey{Uid: first.Uid}); err != nil {
		t.Fatalf("reconcile of deleted version failed: %s", err)
	}

	// only the unreferenced object goes, the shared one survives
	if len(remover.removed) != 1 || remover.removed[0] != "obj-own" {
		t.Fatalf("removed objects: got %v want [obj-own]", remover.removed)
	}
	left, err := s.BlocksByVersion(ctx, second.Uid)
	if err != nil {
		t.Fatalf("failed to list blocks of surviving version: %s", err)
	}
	if len(left) != 1 || left[0].Uid != "obj-shared" {
		t.Fatalf("surviving version rows damaged by sweep: %+v", left)
	}

	// sweeping the last referencing version releases the object
	if err := s.DeleteVersion(ctx, second.Uid); err != nil {
		t.Fatalf("failed to delete second version: %s", err)
	}
	if _, err := crtl.Reconcile(&VersionKey{Uid: second.Uid}); err != nil {
		t.Fatalf("reconcile of second version failed: %s", err)
	}
	if len(remover.removed) != 2 || remover.removed[1] != "obj-shared" {
		t.Fatalf("removed objects: got %v want [obj-own obj-shared]", remover.removed)
	}
}
