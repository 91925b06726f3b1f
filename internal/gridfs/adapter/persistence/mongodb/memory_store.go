package mongodb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MemoryDatabase is an in-process DatabaseInterface used for local development
// and tests. Filters support field equality only; projections support plain
// inclusion or exclusion of top-level fields.
type MemoryDatabase struct {
	name        string
	mu          sync.Mutex
	collections map[string]*MemoryCollection
	dropErr     map[string]error
}

// NewMemoryDatabase creates an empty in-memory database
func NewMemoryDatabase(name string) *MemoryDatabase {
	return &MemoryDatabase{
		name:        name,
		collections: make(map[string]*MemoryCollection),
		dropErr:     make(map[string]error),
	}
}

func (d *MemoryDatabase) Name() string { return d.name }

func (d *MemoryDatabase) Collection(name string) CollectionInterface {
	return d.collection(name)
}

func (d *MemoryDatabase) collection(name string) *MemoryCollection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		c = &MemoryCollection{name: name}
		d.collections[name] = c
	}
	return c
}

func (d *MemoryDatabase) DropCollection(ctx context.Context, name string) error {
	d.mu.Lock()
	err := d.dropErr[name]
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.collection(name).Drop(ctx)
}

// MemoryCollection is one collection of a MemoryDatabase
type MemoryCollection struct {
	name string

	mu      sync.Mutex
	docs    []bson.M
	indexes []IndexSpec

	createIndexCalls int
	listIndexCalls   int
	insertCalls      int

	// failure injection for tests; failInsertAt fails the n-th InsertOne call (1-based)
	failInsertAt  int
	findErr       error
	deleteOneErr  error
	deleteManyErr error
	dropErr       error
}

func (c *MemoryCollection) Name() string { return c.name }

func (c *MemoryCollection) InsertOne(ctx context.Context, doc interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.insertCalls++
	if c.failInsertAt > 0 && c.insertCalls == c.failInsertAt {
		return nil, errors.New("insert failed")
	}

	m, err := toBsonM(doc)
	if err != nil {
		return nil, err
	}
	if _, ok := m["_id"]; !ok {
		m["_id"] = primitive.NewObjectID()
	}
	for _, existing := range c.docs {
		if valuesEqual(existing["_id"], m["_id"]) {
			return nil, fmt.Errorf("E11000 duplicate key error collection: %s", c.name)
		}
	}
	for _, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		for _, existing := range c.docs {
			if sameKeyValues(existing, m, idx.Keys) {
				return nil, fmt.Errorf("E11000 duplicate key error index: %s", idx.Name)
			}
		}
	}
	c.docs = append(c.docs, m)
	return m["_id"], nil
}

func (c *MemoryCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SingleResultInterface {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findErr != nil {
		return &memSingleResult{err: c.findErr}
	}
	f := filterMap(filter)
	for _, d := range c.docs {
		if matches(d, f) {
			return &memSingleResult{doc: d}
		}
	}
	return &memSingleResult{err: mongo.ErrNoDocuments}
}

func (c *MemoryCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (CursorInterface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findErr != nil {
		return nil, c.findErr
	}

	f := filterMap(filter)
	var result []bson.M
	for _, d := range c.docs {
		if matches(d, f) {
			result = append(result, d)
		}
	}

	var skip, limit int64
	var projection bson.M
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Projection != nil {
			projection = filterMap(o.Projection)
		}
		if sortKeys, ok := o.Sort.(bson.D); ok {
			sortDocs(result, sortKeys)
		}
		if o.Skip != nil {
			skip = *o.Skip
		}
		if o.Limit != nil {
			limit = *o.Limit
		}
	}
	if skip > 0 {
		if skip >= int64(len(result)) {
			result = nil
		} else {
			result = result[skip:]
		}
	}
	if limit > 0 && int64(len(result)) > limit {
		result = result[:limit]
	}
	if len(projection) > 0 {
		projected := make([]bson.M, len(result))
		for i, d := range result {
			projected[i] = project(d, projection)
		}
		result = projected
	}
	return &memCursor{docs: result, pos: -1}, nil
}

func (c *MemoryCollection) DeleteOne(ctx context.Context, filter interface{}) (DeleteResultInterface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteOneErr != nil {
		return nil, c.deleteOneErr
	}
	f := filterMap(filter)
	for i, d := range c.docs {
		if matches(d, f) {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			return memDeleteResult(1), nil
		}
	}
	return memDeleteResult(0), nil
}

func (c *MemoryCollection) DeleteMany(ctx context.Context, filter interface{}) (DeleteResultInterface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteManyErr != nil {
		return nil, c.deleteManyErr
	}
	f := filterMap(filter)
	kept := c.docs[:0]
	var deleted int64
	for _, d := range c.docs {
		if matches(d, f) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return memDeleteResult(deleted), nil
}

func (c *MemoryCollection) Indexes() IndexManager {
	return &memIndexManager{col: c}
}

func (c *MemoryCollection) Drop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropErr != nil {
		return c.dropErr
	}
	c.docs = nil
	c.indexes = nil
	return nil
}

// Count returns the number of stored documents
func (c *MemoryCollection) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

func (c *MemoryCollection) all() []bson.M {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bson.M, len(c.docs))
	copy(out, c.docs)
	return out
}

type memDeleteResult int64

func (r memDeleteResult) Deleted() int64 { return int64(r) }

type memIndexManager struct {
	col *MemoryCollection
}

func (m *memIndexManager) List(ctx context.Context) ([]IndexSpec, error) {
	m.col.mu.Lock()
	defer m.col.mu.Unlock()
	m.col.listIndexCalls++
	specs := []IndexSpec{{Name: "_id_", Keys: bson.D{{Key: "_id", Value: int32(1)}}, Unique: true}}
	return append(specs, m.col.indexes...), nil
}

func (m *memIndexManager) CreateOne(ctx context.Context, keys bson.D, unique bool) (string, error) {
	m.col.mu.Lock()
	defer m.col.mu.Unlock()
	m.col.createIndexCalls++
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s_%v", k.Key, k.Value))
	}
	name := strings.Join(parts, "_")
	m.col.indexes = append(m.col.indexes, IndexSpec{Name: name, Keys: keys, Unique: unique})
	return name, nil
}

type memSingleResult struct {
	doc bson.M
	err error
}

func (r *memSingleResult) Decode(v interface{}) error {
	if r.err != nil {
		return r.err
	}
	return decodeInto(r.doc, v)
}

type memCursor struct {
	docs   []bson.M
	pos    int
	closed bool
}

func (c *memCursor) Next(ctx context.Context) bool {
	if c.closed || c.pos+1 >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *memCursor) Decode(v interface{}) error {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return errors.New("cursor is not positioned on a document")
	}
	return decodeInto(c.docs[c.pos], v)
}

func (c *memCursor) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

func (c *memCursor) Err() error { return nil }

func toBsonM(doc interface{}) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeInto(doc bson.M, v interface{}) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, v)
}

func filterMap(filter interface{}) bson.M {
	switch f := filter.(type) {
	case nil:
		return bson.M{}
	case bson.M:
		return f
	case map[string]interface{}:
		return bson.M(f)
	default:
		m, err := toBsonM(f)
		if err != nil {
			return bson.M{"$never": true}
		}
		return m
	}
}

// project applies a MongoDB style projection: _id is kept unless excluded, and
// any other zero value switches to exclusion mode.
func project(doc bson.M, projection bson.M) bson.M {
	include := false
	for k, v := range projection {
		if k == "_id" {
			continue
		}
		if projectionFlag(v) {
			include = true
		}
	}

	out := bson.M{}
	for k, v := range doc {
		p, listed := projection[k]
		keep := !include
		if listed {
			keep = projectionFlag(p)
		} else if k == "_id" {
			keep = true
		}
		if keep {
			out[k] = v
		}
	}
	return out
}

func projectionFlag(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	f, ok := toFloat(v)
	return !ok || f != 0
}

func matches(doc bson.M, filter bson.M) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func sameKeyValues(a, b bson.M, keys bson.D) bool {
	for _, k := range keys {
		if !valuesEqual(a[k.Key], b[k.Key]) {
			return false
		}
	}
	return true
}

func sortDocs(docs []bson.M, keys bson.D) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(docs[i][k.Key], docs[j][k.Key])
			if c == 0 {
				continue
			}
			dir, _ := toFloat(k.Value)
			if dir < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareValues(a, b interface{}) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	switch {
	case aok && bok && af < bf:
		return -1
	case aok && bok && af > bf:
		return 1
	case aok && bok:
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
