package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/mailerr"
)

// Cache wraps the SQLite database holding the local mail replica
type Cache struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewCache opens (or creates) the cache database at dbPath
func NewCache(dbPath string, logger *logrus.Logger) (*Cache, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, mailerr.E(mailerr.IO, "create cache directory", err)
	}

	// Open database
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, mailerr.E(mailerr.Database, "open database", err)
	}

	// WAL keeps reads available while a sync pass writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, mailerr.E(mailerr.Database, "enable WAL mode", err)
	}

	// Enable foreign keys so attachments follow their emails
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, mailerr.E(mailerr.Database, "enable foreign keys", err)
	}

	cache := &Cache{
		db:     db,
		logger: logger,
	}

	// Initialize schema
	if err := cache.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("path", dbPath).Info("Cache initialized")
	return cache, nil
}

// initSchema initializes the database schema
func (c *Cache) initSchema() error {
	if _, err := c.db.Exec(Schema); err != nil {
		return mailerr.E(mailerr.Database, "create schema", fmt.Errorf("failed to create schema: %w", err))
	}
	return nil
}

// Close closes the database connection
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// DB returns the underlying database handle (for use in store.go)
func (c *Cache) DB() *sqlx.DB {
	return c.db
}
