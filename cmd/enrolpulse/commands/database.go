package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/teranos/enrolpulse/am"
	"github.com/teranos/enrolpulse/db"
	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/logger"
)

// openDatabase opens and migrates the database named by --db, falling back to
// database.path from am config.
func openDatabase(cmd *cobra.Command) (*sql.DB, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		path, err := am.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "enrolpulse.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
