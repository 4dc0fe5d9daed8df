package mgo

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	mgoOnce sync.Once
	client  *mongo.Client
	db      *mongo.Database
)

type Config struct {
	URI      string
	Database string
}

// Init connects the shared Mongo client (singleton).
func Init(ctx context.Context, c Config) error {
	var initErr error
	mgoOnce.Do(func() {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		cli, err := mongo.Connect(cctx, options.Client().ApplyURI(c.URI))
		if err != nil {
			initErr = err
			return
		}
		if err := cli.Ping(cctx, readpref.Primary()); err != nil {
			initErr = err
			return
		}
		client = cli
		db = cli.Database(c.Database)
	})
	return initErr
}

// GetDB returns the shared database handle. Panics if Init was never called.
func GetDB() *mongo.Database {
	if db == nil {
		panic("mongo not initialized, call mgo.Init first")
	}
	return db
}

func Close(ctx context.Context) error {
	if client != nil {
		return client.Disconnect(ctx)
	}
	return nil
}
