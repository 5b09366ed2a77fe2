package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"adscan-pipeline/config"
	"adscan-pipeline/models"
	"adscan-pipeline/services"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

const (
	maxPingAttempts     = 6
	DefaultReportsLimit = 50
	MaxReportsLimit     = 500
)

// Database stores scan results in MySQL
type Database struct {
	db     *sql.DB
	brands *services.BrandService
}

// AdSlotReport is one stored ad slot row
type AdSlotReport struct {
	ID        int64     `json:"id"`
	SourceURL string    `json:"source_url"`
	ScannedAt time.Time `json:"scanned_at"`
	SlotIndex int       `json:"slot_index"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	Location  string    `json:"location"`
	AdType    string    `json:"type"`
	Brand     string    `json:"brand"`
	BrandKey  string    `json:"brand_key"`
	Product   string    `json:"product"`
	CreatedAt time.Time `json:"created_at"`
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
	for attempt := 1; ; attempt++ {
		err := db.Ping()
		if err == nil {
			break
		}
		if attempt == maxPingAttempts {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempt, err)
		}
		log.Warnf("Database connection failed, retrying in %v: %v", waitInterval, err)
		time.Sleep(waitInterval)
		waitInterval *= 2
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return New(db), nil
}

// New wraps an open connection.
func New(db *sql.DB) *Database {
	return &Database{db: db, brands: services.NewBrandService()}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Name identifies the sink in logs and metrics.
func (d *Database) Name() string {
	return config.SinkMySQL
}

// CreateAdSlotReportsTable creates the ad_slot_reports table if it doesn't exist
func (d *Database) CreateAdSlotReportsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ad_slot_reports (
		id BIGINT NOT NULL AUTO_INCREMENT,
		source_url VARCHAR(2048) NOT NULL,
		scanned_at TIMESTAMP NOT NULL,
		slot_index INT NOT NULL,
		x DOUBLE NOT NULL,
		y DOUBLE NOT NULL,
		width DOUBLE NOT NULL,
		height DOUBLE NOT NULL,
		location VARCHAR(32) NOT NULL,
		ad_type VARCHAR(32) NOT NULL,
		brand VARCHAR(255) NOT NULL DEFAULT '',
		brand_key VARCHAR(255) NOT NULL DEFAULT '',
		product VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX idx_ad_slot_reports_scanned_at (scanned_at),
		INDEX idx_ad_slot_reports_brand_key (brand_key)
	)`

	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create ad_slot_reports table: %w", err)
	}

	log.Info("ad_slot_reports table created/verified successfully")
	return nil
}

// ReportScan stores every slot of a scan in one transaction.
func (d *Database) ReportScan(ctx context.Context, report *models.ScanReport) error {
	if len(report.Ads) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, ad := range report.Ads {
		_, err := tx.ExecContext(ctx, `INSERT INTO ad_slot_reports
			(source_url, scanned_at, slot_index, x, y, width, height, location, ad_type, brand, brand_key, product)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.SourceURL, report.ScannedAt, i,
			ad.X, ad.Y, ad.Width, ad.Height,
			string(ad.Location), string(ad.AdType),
			ad.Brand, d.brands.NormalizeBrandName(ad.Brand), ad.Product)
		if err != nil {
			return fmt.Errorf("failed to insert ad slot %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scan report: %w", err)
	}

	log.WithFields(log.Fields{
		"url": report.SourceURL,
		"ads": len(report.Ads),
	}).Debug("Stored scan report")
	return nil
}

// RecentReports returns the most recently stored slots, newest first.
func (d *Database) RecentReports(ctx context.Context, limit int) ([]AdSlotReport, error) {
	if limit <= 0 {
		limit = DefaultReportsLimit
	}
	if limit > MaxReportsLimit {
		limit = MaxReportsLimit
	}

	rows, err := d.db.QueryContext(ctx, `SELECT id, source_url, scanned_at, slot_index,
		x, y, width, height, location, ad_type, brand, brand_key, product, created_at
		FROM ad_slot_reports
		ORDER BY scanned_at DESC, slot_index ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ad slot reports: %w", err)
	}
	defer rows.Close()

	reports := []AdSlotReport{}
	for rows.Next() {
		var r AdSlotReport
		if err := rows.Scan(
			&r.ID, &r.SourceURL, &r.ScannedAt, &r.SlotIndex,
			&r.X, &r.Y, &r.Width, &r.Height,
			&r.Location, &r.AdType, &r.Brand, &r.BrandKey, &r.Product, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ad slot report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ad slot reports: %w", err)
	}
	return reports, nil
}
