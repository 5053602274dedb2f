package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"warrn-service/config"

	_ "github.com/go-sql-driver/mysql"
)

// Database wraps the MySQL connection for report and user storage
type Database struct {
	db *sql.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection with exponential backoff retry
	waitInterval := 1 * time.Second
	for attempt := 0; ; attempt++ {
		if err := db.Ping(); err == nil {
			break
		} else if attempt >= 5 {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		} else {
			log.Printf("Database connection failed, retrying in %v: %v", waitInterval, err)
			time.Sleep(waitInterval)
			waitInterval *= 2
		}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{db: db}, nil
}

// EnsureTables creates the reports and users tables if they don't exist
func (d *Database) EnsureTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			username VARCHAR(80) NOT NULL UNIQUE,
			email VARCHAR(120) NOT NULL UNIQUE,
			password_hash VARCHAR(100) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'responder',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			animal_type VARCHAR(50) NOT NULL,
			` + "`condition`" + ` VARCHAR(50) NOT NULL,
			description VARCHAR(200),
			reporter_email VARCHAR(120) NOT NULL,
			image_ref VARCHAR(100),
			status VARCHAR(20) NOT NULL DEFAULT 'New',
			responder_id BIGINT,
			ai_suggestion VARCHAR(50),
			resolution_notes VARCHAR(500),
			resolution_image_ref VARCHAR(100),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_reports_status (status),
			INDEX idx_reports_created_at (created_at),
			FOREIGN KEY (responder_id) REFERENCES users(id)
		)`,
	}

	for _, query := range queries {
		if _, err := d.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}
