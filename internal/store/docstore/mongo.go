package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tbourn/fieldops-backend/internal/store"
)

const (
	connectTimeout = 5 * time.Second
	pingTimeout    = 2 * time.Second
)

type mongoDatabase struct{ db *mongo.Database }

func (m mongoDatabase) CollectionNames(ctx context.Context) ([]string, error) {
	return m.db.ListCollectionNames(ctx, bson.M{})
}

func (m mongoDatabase) Create(ctx context.Context, name string) error {
	return m.db.CreateCollection(ctx, name)
}

func (m mongoDatabase) Collection(name string) collectionAPI {
	return mongoCollection{c: m.db.Collection(name)}
}

type mongoCollection struct{ c *mongo.Collection }

func (m mongoCollection) FindAll(ctx context.Context) ([]bson.Raw, error) {
	cur, err := m.c.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var out []bson.Raw
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m mongoCollection) Replace(ctx context.Context, id string, doc any) error {
	_, err := m.c.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m mongoCollection) DeleteByID(ctx context.Context, id string) error {
	_, err := m.c.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// dial is a seam for tests. It returns the database and its disconnect func.
var dial = func(ctx context.Context, creds store.Credentials) (databaseAPI, func(context.Context) error, error) {
	opts := options.Client().ApplyURI(creds.MongoURI).SetConnectTimeout(connectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return mongoDatabase{db: client.Database(creds.MongoDatabase)}, client.Disconnect, nil
}

// Connect dials and pings MongoDB, then ensures the collections exist.
func Connect(ctx context.Context, creds store.Credentials) (store.Backend, error) {
	if err := store.Require(
		"mongo_uri", creds.MongoURI,
		"mongo_database", creds.MongoDatabase,
	); err != nil {
		return nil, err
	}
	db, closeFn, err := dial(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("docstore: %w", err)
	}
	b := newBackend(db, closeFn)
	if err := b.ensure(ctx); err != nil {
		_ = b.Close(context.Background())
		return nil, err
	}
	return b, nil
}

// Connector is Connect as a store.Connector.
var Connector store.Connector = store.ConnectorFunc(Connect)
