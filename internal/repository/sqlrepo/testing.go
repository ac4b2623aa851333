package sqlrepo

import (
	"testing"

	"gorm.io/gorm"
)

// OpenTest returns a migrated in-memory database private to t
func OpenTest(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := open(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	// every pooled connection to :memory: would see its own empty database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}
