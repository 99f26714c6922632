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
	mgoMgr  *MongoManager
)

type MongoManager struct {
	client *mongo.Client
	db     *mongo.Database
}

// Config for the message archive Mongo.
type Config struct {
	URI      string
	Database string
}

// InitMgo initializes the singleton client and pings the primary.
func InitMgo(c Config) error {
	var initErr error
	mgoOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
		if err != nil {
			initErr = err
			return
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			initErr = err
			return
		}

		mgoMgr = &MongoManager{client: client, db: client.Database(c.Database)}
	})
	return initErr
}

func GetDB() *mongo.Database {
	if mgoMgr == nil {
		panic("Mongo not initialized, call InitMgo first")
	}
	return mgoMgr.db
}

func CloseMgo(ctx context.Context) error {
	if mgoMgr != nil && mgoMgr.client != nil {
		return mgoMgr.client.Disconnect(ctx)
	}
	return nil
}
