package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lherron/subsync/internal/db"
)

// BaseTime is a fixed reference instant used by seed helpers
var BaseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// TempDB creates a temporary migrated SQLite database for testing
func TempDB(t *testing.T) (*db.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := db.Open(db.DriverSQLite, dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database, dbPath
}

// InsertSubscriber seeds a legacy email subscriber and returns its id
func InsertSubscriber(t *testing.T, database *db.DB, email string, consent bool, created time.Time) int64 {
	t.Helper()
	res, err := database.Exec(
		"INSERT INTO subscribers (create_date, email, gdpr_consent) VALUES (?, ?, ?)",
		created.UTC(), email, consent,
	)
	if err != nil {
		t.Fatalf("Failed to insert subscriber %s: %v", email, err)
	}
	return lastID(t, res)
}

// InsertSubscriberSMS seeds a legacy SMS subscriber and returns its id
func InsertSubscriberSMS(t *testing.T, database *db.DB, phone string, consent bool, created time.Time) int64 {
	t.Helper()
	res, err := database.Exec(
		"INSERT INTO subscriber_sms (create_date, phone, gdpr_consent) VALUES (?, ?, ?)",
		created.UTC(), phone, consent,
	)
	if err != nil {
		t.Fatalf("Failed to insert SMS subscriber %s: %v", phone, err)
	}
	return lastID(t, res)
}

// InsertClient seeds a client and returns its id
func InsertClient(t *testing.T, database *db.DB, email, phone string) int64 {
	t.Helper()
	res, err := database.Exec(
		"INSERT INTO clients (create_date, email, phone) VALUES (?, ?, ?)",
		BaseTime, email, phone,
	)
	if err != nil {
		t.Fatalf("Failed to insert client %s: %v", email, err)
	}
	return lastID(t, res)
}

// InsertUser seeds a unified user; empty email or phone is stored as NULL
func InsertUser(t *testing.T, database *db.DB, email, phone string, consent bool, created time.Time) int64 {
	t.Helper()
	res, err := database.Exec(
		"INSERT INTO users (create_date, email, phone, gdpr_consent) VALUES (?, ?, ?, ?)",
		created.UTC(), nullString(email), nullString(phone), consent,
	)
	if err != nil {
		t.Fatalf("Failed to insert user %s/%s: %v", email, phone, err)
	}
	return lastID(t, res)
}

func lastID(t *testing.T, res interface{ LastInsertId() (int64, error) }) int64 {
	t.Helper()
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read last insert id: %v", err)
	}
	return id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ReadFile reads content from a file
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(data)
}
