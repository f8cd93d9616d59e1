package database

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open opens a gorm connection for the given driver
func Open(driver, dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres, "":
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Connect establishes the global database connection
func Connect(driver, dsn string, logLevel logger.LogLevel) error {
	db, err := Open(driver, dsn, logLevel)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// GetDB returns the global database instance
func GetDB() *gorm.DB {
	return DB
}

// Models lists every table owned by this service
func Models() []interface{} {
	return []interface{}{
		&Signal{},
		&SignalNote{},
		&Responder{},
		&Assignment{},
		&Notification{},
		&NotificationDelivery{},
		&EscalationSettings{},
	}
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("running database migrations")
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed")
	return nil
}

// InitializeDefaults creates default records if they don't exist
func InitializeDefaults(db *gorm.DB, supervisor *Responder, escalation *EscalationSettings, log *zap.Logger) error {
	if _, err := GetOrCreateEscalationSettings(db, escalation); err != nil {
		return fmt.Errorf("failed to initialize escalation settings: %w", err)
	}

	if supervisor == nil || supervisor.ID == "" {
		return nil
	}

	// The supervisory recipient must resolve through the roster, otherwise
	// escalations of unassigned signals have nobody to notify
	var existing Responder
	err := db.Where("id = ?", supervisor.ID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := db.Create(supervisor).Error; err != nil {
			return fmt.Errorf("failed to create supervisor responder: %w", err)
		}
		log.Info("created default supervisory responder", zap.String("responder_id", supervisor.ID))
		return nil
	}
	return err
}
