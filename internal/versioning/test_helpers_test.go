package versioning

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDatabaseSequence int64

func mustRoomID(t *testing.T, value string) RoomID {
	t.Helper()
	id, err := NewRoomID(value)
	if err != nil {
		t.Fatalf("unexpected room id error: %v", err)
	}
	return id
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:versioning_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDatabaseSequence, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to unwrap database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Version{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Database: newTestDatabase(t),
		Codec:    NewCodec(),
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func newTestWriter(t *testing.T, store *Store, interval int) *Writer {
	t.Helper()
	writer, err := NewWriter(WriterConfig{
		Store:            store,
		Codec:            NewCodec(),
		SnapshotInterval: interval,
	})
	if err != nil {
		t.Fatalf("failed to construct writer: %v", err)
	}
	return writer
}
