package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// NewMongoDB dial the document store with a ping-verified retry loop
func NewMongoDB(ctx context.Context, c Connection, dbName string) (*MongoDB, error) {
	var lastErr error

	for attempt := 0; attempt <= c.RetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(c.RetryInterval)
		}

		client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.ConnectStr))
		if err != nil {
			lastErr = err
			continue
		}

		// 連上不代表可用，ping 過才算
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx)
			lastErr = err
			continue
		}

		return &MongoDB{
			Client:   client,
			Database: client.Database(dbName),
		}, nil
	}

	return nil, fmt.Errorf("mongo connect failed after %d attempts: %w", c.RetryCount+1, lastErr)
}

// Close disconnect the mongo client
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
