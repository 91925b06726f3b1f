package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// namespaceNotFoundCode is returned by listIndexes on a collection that was never created
const namespaceNotFoundCode = 26

// CollectionInterface is the subset of *mongo.Collection the file layer relies on
type CollectionInterface interface {
	Name() string
	InsertOne(ctx context.Context, doc interface{}) (interface{}, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SingleResultInterface
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (CursorInterface, error)
	DeleteOne(ctx context.Context, filter interface{}) (DeleteResultInterface, error)
	DeleteMany(ctx context.Context, filter interface{}) (DeleteResultInterface, error)
	Indexes() IndexManager
	Drop(ctx context.Context) error
}

// DatabaseInterface resolves collections by physical name
type DatabaseInterface interface {
	Name() string
	Collection(name string) CollectionInterface
	DropCollection(ctx context.Context, name string) error
}

type SingleResultInterface interface {
	Decode(v interface{}) error
}
type DeleteResultInterface interface{ Deleted() int64 }
type CursorInterface interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Close(ctx context.Context) error
	Err() error
}

// IndexSpec is one entry returned by listIndexes
type IndexSpec struct {
	Name   string
	Keys   bson.D
	Unique bool
}

// IndexManager lists and creates indexes of a single collection
type IndexManager interface {
	List(ctx context.Context) ([]IndexSpec, error)
	CreateOne(ctx context.Context, keys bson.D, unique bool) (string, error)
}

// Adapters to make the driver types compatible with the interfaces above

type MongoDatabaseAdapter struct {
	db *mongo.Database
}

func NewMongoDatabaseAdapter(db *mongo.Database) *MongoDatabaseAdapter {
	return &MongoDatabaseAdapter{db: db}
}

func (m *MongoDatabaseAdapter) Name() string {
	return m.db.Name()
}

func (m *MongoDatabaseAdapter) Collection(name string) CollectionInterface {
	return NewMongoCollectionAdapter(m.db.Collection(name))
}

func (m *MongoDatabaseAdapter) DropCollection(ctx context.Context, name string) error {
	return m.db.Collection(name).Drop(ctx)
}

type MongoCollectionAdapter struct {
	col *mongo.Collection
}

func NewMongoCollectionAdapter(col *mongo.Collection) *MongoCollectionAdapter {
	return &MongoCollectionAdapter{col: col}
}

func (m *MongoCollectionAdapter) Name() string {
	return m.col.Name()
}

func (m *MongoCollectionAdapter) InsertOne(ctx context.Context, doc interface{}) (interface{}, error) {
	res, err := m.col.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (m *MongoCollectionAdapter) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SingleResultInterface {
	return m.col.FindOne(ctx, filter, opts...)
}

func (m *MongoCollectionAdapter) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (CursorInterface, error) {
	cur, err := m.col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (m *MongoCollectionAdapter) DeleteOne(ctx context.Context, filter interface{}) (DeleteResultInterface, error) {
	res, err := m.col.DeleteOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &mongoDeleteResultAdapter{res}, nil
}

func (m *MongoCollectionAdapter) DeleteMany(ctx context.Context, filter interface{}) (DeleteResultInterface, error) {
	res, err := m.col.DeleteMany(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &mongoDeleteResultAdapter{res}, nil
}

func (m *MongoCollectionAdapter) Indexes() IndexManager {
	return &mongoIndexManager{view: m.col.Indexes()}
}

func (m *MongoCollectionAdapter) Drop(ctx context.Context) error {
	return m.col.Drop(ctx)
}

type mongoDeleteResultAdapter struct{ res *mongo.DeleteResult }

func (d *mongoDeleteResultAdapter) Deleted() int64 { return d.res.DeletedCount }

type mongoIndexManager struct {
	view mongo.IndexView
}

func (m *mongoIndexManager) List(ctx context.Context) ([]IndexSpec, error) {
	specs, err := m.view.ListSpecifications(ctx)
	if err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code == namespaceNotFoundCode {
			return nil, nil
		}
		return nil, err
	}

	result := make([]IndexSpec, 0, len(specs))
	for _, spec := range specs {
		var keys bson.D
		if err := bson.Unmarshal(spec.KeysDocument, &keys); err != nil {
			return nil, err
		}
		result = append(result, IndexSpec{
			Name:   spec.Name,
			Keys:   keys,
			Unique: spec.Unique != nil && *spec.Unique,
		})
	}
	return result, nil
}

func (m *mongoIndexManager) CreateOne(ctx context.Context, keys bson.D, unique bool) (string, error) {
	model := mongo.IndexModel{Keys: keys}
	if unique {
		model.Options = options.Index().SetUnique(true)
	}
	return m.view.CreateOne(ctx, model)
}
