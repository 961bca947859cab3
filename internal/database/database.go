package database

import (
	"database/sql"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aseanmotorclub/roadwatch/internal/model"
)

// Manager handles the local SQLite state database. It holds the applied
// world-state records, which must survive restarts so reconciliation can
// despawn what a previous run spawned.
type Manager struct {
	DB      *gorm.DB
	SqlDB   *sql.DB
	IsValid bool
	Path    string
	Logger  zerolog.Logger
}

// NewManager creates a new database manager for the given file path. An
// empty path selects a shared in-memory database, used by tests.
func NewManager(path string, log zerolog.Logger) *Manager {
	return &Manager{
		IsValid: false,
		Path:    path,
		Logger:  log,
	}
}

// Connect opens the SQLite database and validates the connection.
func (m *Manager) Connect() error {
	var err error

	m.DB, err = m.open()
	if err != nil || m.DB == nil {
		m.IsValid = false
		return fmt.Errorf("failed to open SQLite DB: %s", err)
	}

	m.SqlDB, err = m.DB.DB()
	if err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to access sql interface: %s", err)
	}

	if err := m.SqlDB.Ping(); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to validate connection: %s", err)
	}

	m.IsValid = true
	m.Logger.Info().Str("path", m.Path).Msg("Connected to state database")
	return nil
}

func (m *Manager) open() (*gorm.DB, error) {
	dsn := m.Path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %s", err)
		}
	}

	return db, nil
}

// Setup migrates the schema.
func (m *Manager) Setup() error {
	m.Logger.Info().Msg("Migrating schema")
	if err := m.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to migrate schema: %s", err)
	}
	return nil
}

// Close closes the underlying connection.
func (m *Manager) Close() error {
	m.IsValid = false
	if m.SqlDB == nil {
		return nil
	}
	return m.SqlDB.Close()
}
