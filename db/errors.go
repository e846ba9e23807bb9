package db

import (
	"strings"

	"github.com/teranos/enrolpulse/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database,
// typically while the pulse daemon shuts down with a job mid-checkpoint.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// The driver returns its own error values, so raw messages are matched too.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsBusy reports whether SQLite gave up waiting on a lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
