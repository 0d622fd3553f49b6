// Package testutil provides shared helpers for integration tests.
// Helpers in this package skip automatically when required environment
// variables are not set, so unit tests can run without a running database.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// NewDatabase connects to the MongoDB instance specified by the
// TEST_MONGO_URL environment variable and returns a uniquely named database
// for the calling test, so parallel packages never trample each other.
//
// The test is skipped automatically if TEST_MONGO_URL is not set, so
// integration tests are opt-in and never break CI environments without a
// database. The database is dropped and the client disconnected when the
// test (and all its subtests) finish.
func NewDatabase(t *testing.T) *mongo.Database {
	t.Helper()

	client := MustConnect(requireURL(t))
	db := client.Database("geotag_test_" + uuid.NewString()[:8])

	t.Cleanup(func() {
		ctx := context.Background()
		if err := db.Drop(ctx); err != nil {
			t.Logf("testutil.NewDatabase: drop: %v", err)
		}
		if err := client.Disconnect(ctx); err != nil {
			t.Logf("testutil.NewDatabase: disconnect: %v", err)
		}
	})
	return db
}

// MustConnect opens a client for the given connection string and panics on
// any error. Use this in TestMain functions where no *testing.T is
// available. Callers are responsible for disconnecting the client.
func MustConnect(url string) *mongo.Client {
	client, err := mongo.Connect(options.Client().ApplyURI(url))
	if err != nil {
		panic(fmt.Sprintf("testutil.MustConnect: connect: %v", err))
	}
	if err := client.Ping(context.Background(), nil); err != nil {
		panic(fmt.Sprintf("testutil.MustConnect: ping: %v", err))
	}
	return client
}

// requireURL returns the TEST_MONGO_URL environment variable value,
// skipping the test if it is not set.
func requireURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_MONGO_URL")
	if url == "" {
		t.Skip("TEST_MONGO_URL not set; skipping integration test")
	}
	return url
}
