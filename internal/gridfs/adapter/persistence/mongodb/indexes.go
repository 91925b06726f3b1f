package mongodb

import (
	"context"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	filesIndexKeys  = bson.D{{Key: "filename", Value: 1}, {Key: "uploadDate", Value: 1}}
	chunksIndexKeys = bson.D{{Key: "files_id", Value: 1}, {Key: "n", Value: 1}}
)

// EnsureIndexes creates the indexes GridFS readers expect. The check runs once
// per FileCollection unless force is set.
func (c *FileCollection) EnsureIndexes(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexesEnsured && !force {
		return nil
	}

	if err := ensureIndex(ctx, c.files, filesIndexKeys, false); err != nil {
		return err
	}
	if err := ensureIndex(ctx, c.chunkCollectionLocked(false), chunksIndexKeys, true); err != nil {
		return err
	}

	c.indexesEnsured = true
	c.logger.Debugf("Indexes ensured for bucket %s", c.prefix)
	return nil
}

// IndexesEnsured reports whether EnsureIndexes already succeeded
func (c *FileCollection) IndexesEnsured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexesEnsured
}

func ensureIndex(ctx context.Context, col CollectionInterface, keys bson.D, unique bool) error {
	existing, err := col.Indexes().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list indexes of %s: %w", col.Name(), err)
	}
	for _, idx := range existing {
		if keysEqual(idx.Keys, keys) && (!unique || idx.Unique) {
			return nil
		}
	}
	if _, err := col.Indexes().CreateOne(ctx, keys, unique); err != nil {
		return fmt.Errorf("failed to create index on %s: %w", col.Name(), err)
	}
	return nil
}

// keysEqual compares two key patterns by field order and direction.
// Directions are compared numerically since the server may return 1 as int32, int64 or double.
func keysEqual(a, b bson.D) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key {
			return false
		}
		av, aok := toFloat(a[i].Value)
		bv, bok := toFloat(b[i].Value)
		if aok && bok {
			if av != bv {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
