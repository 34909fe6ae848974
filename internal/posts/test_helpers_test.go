package posts

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustPostID(t *testing.T, value string) PostID {
	t.Helper()
	id, err := NewPostID(value)
	if err != nil {
		t.Fatalf("unexpected post id error: %v", err)
	}
	return id
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Post{}, &PostTagRecord{}, &FirstWriteGate{}, &ReadMarker{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func testZone() *time.Location {
	return time.FixedZone("KST", 9*60*60)
}

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errExhaustedIDs
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

var errExhaustedIDs = errTest("exhausted ids")

type errTest string

func (e errTest) Error() string {
	return string(e)
}
