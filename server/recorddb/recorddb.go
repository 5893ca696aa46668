// Package recorddb keeps every classification record in sqlite, so that the server can answer
// queries about past alerts, and so that re-running a batch replaces old results instead of duplicating them.
package recorddb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/server/classify"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("Record not found")

type RecordDB struct {
	log logs.Log
	db  *gorm.DB
}

// Open or create the record DB, and bring its schema up to date
func NewRecordDB(log logs.Log, cfg dbh.DBConfig) (*RecordDB, error) {
	if cfg.Driver == dbh.DriverSqlite {
		os.MkdirAll(filepath.Dir(cfg.Database), 0777)
	}
	db, err := dbh.OpenDB(log, cfg, Migrations(log, cfg.Driver), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open %v database %v: %w", cfg.Driver, cfg.Database, err)
	}
	return &RecordDB{
		log: log,
		db:  db,
	}, nil
}

// Save inserts the record, or replaces the existing record of the same image
func (r *RecordDB) Save(rec classify.Record) error {
	row := FromClassify(rec)
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// SaveMany saves all the records in one transaction, with the same upsert rule as Save
func (r *RecordDB) SaveMany(recs []classify.Record) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, rec := range recs {
			row := FromClassify(rec)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "image"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RecordDB) Get(image string) (*Record, error) {
	rec := Record{}
	err := r.db.Where("image = ?", image).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type Filter struct {
	Location      string // Empty = all locations
	AccurateAlert *bool  // nil = either
	Limit         int    // 0 = no limit
	Offset        int
}

// List returns records, most recently processed first
func (r *RecordDB) List(f Filter) ([]Record, error) {
	q := r.db.Model(&Record{})
	if f.Location != "" {
		q = q.Where("location = ?", f.Location)
	}
	if f.AccurateAlert != nil {
		q = q.Where("accurate_alert = ?", *f.AccurateAlert)
	}
	q = q.Order("processed_at DESC, id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	recs := []Record{}
	err := q.Find(&recs).Error
	return recs, err
}

// LocationStats is the number of records and accurate alerts at one location
type LocationStats struct {
	Location      string `json:"location"`
	Total         int64  `json:"total"`
	AccurateAlert int64  `json:"accurateAlert"`
}

func (r *RecordDB) Stats() ([]LocationStats, error) {
	stats := []LocationStats{}
	err := r.db.Model(&Record{}).
		Select("location, COUNT(*) AS total, SUM(CASE WHEN accurate_alert THEN 1 ELSE 0 END) AS accurate_alert").
		Group("location").
		Order("location").
		Scan(&stats).Error
	return stats, err
}

func (r *RecordDB) Delete(image string) error {
	return r.db.Where("image = ?", image).Delete(&Record{}).Error
}
