package commands

import (
	"database/sql"

	"github.com/quenby/chime/db"
	"github.com/quenby/chime/errors"
	"github.com/quenby/chime/logger"
)

// openDatabase opens and migrates the database at the given path, falling
// back to the configured path when empty.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, errors.Wrap(err, "load config for database path")
		}
		dbPath = cfg.Database.Path
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "open database at %s", dbPath)
	}
	return database, nil
}
