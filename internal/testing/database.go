package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/enrolpulse/db"
)

// CreateTestDB creates an in-memory SQLite test database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database
	testDB.SetMaxOpenConns(1)

	if _, err := testDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	t.Cleanup(func() {
		testDB.Close()
	})

	return testDB
}

// CreateMigratedTestDB creates an in-memory database with the full schema applied.
func CreateMigratedTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB := CreateTestDB(t)
	if err := db.Migrate(testDB, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return testDB
}

// SeedCourse inserts a course and registers each user with the given provider
// decision, so the SQL directory sees them as course members.
func SeedCourse(t *testing.T, testDB *sql.DB, courseID int64, enrolled map[int64]bool) {
	t.Helper()

	if _, err := testDB.Exec("INSERT OR IGNORE INTO courses (id, title) VALUES (?, ?)", courseID, "Test course"); err != nil {
		t.Fatalf("Failed to seed course %d: %v", courseID, err)
	}
	for userID, isEnrolled := range enrolled {
		if _, err := testDB.Exec("INSERT OR IGNORE INTO users (id) VALUES (?)", userID); err != nil {
			t.Fatalf("Failed to seed user %d: %v", userID, err)
		}
		if _, err := testDB.Exec(
			"INSERT OR REPLACE INTO course_enrolment_providers (user_id, course_id, provider, enrolled) VALUES (?, ?, 'manual', ?)",
			userID, courseID, isEnrolled,
		); err != nil {
			t.Fatalf("Failed to seed provider row for user %d: %v", userID, err)
		}
	}
}
