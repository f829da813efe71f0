package infrastructure

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cv-recommender/domain"
)

// Database is the shared relational pool. It is opened once by the process and closed
// explicitly on shutdown.
type Database struct {
	DB     *gorm.DB
	logger *zap.Logger
}

// OpenPostgres connects to PostgreSQL, enables pgvector and migrates the schema.
func OpenPostgres(cfg AppConfig, logger *zap.Logger) (*Database, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   newGormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseMaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.DatabaseMaxOpen)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable vector extension: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("connected to Postgres and migrated schema")
	return &Database{DB: db, logger: logger}, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	for _, kind := range []domain.EntityKind{domain.KindResume, domain.KindJob} {
		if err := db.Table(kind.Table()).AutoMigrate(&domain.EmbeddingRecord{}); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", kind.Table(), err)
		}
	}
	if err := db.AutoMigrate(&domain.Application{}, &domain.RecommendBatch{}, &domain.RecommendResult{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
