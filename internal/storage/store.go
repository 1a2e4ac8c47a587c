// Package storage persists an audit trail of processed exchanges.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	ilog "cdpintercept/internal/logger"
	"cdpintercept/pkg/domain"
)

// ExchangeRecord is one processed exchange in the audit log.
type ExchangeRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Session   string `gorm:"index"`
	Target    string
	URL       string
	Method    string
	Stage     string
	Result    string `gorm:"index"`
	Status    int
	RuleIDs   string
	CreatedAt time.Time
}

// Store is the sqlite-backed audit log. Writes are best effort: a
// failed insert is logged, never propagated into the interception path.
type Store struct {
	db  *gorm.DB
	log ilog.Logger
}

// Open opens (and migrates) the audit database at dsn.
func Open(dsn string, l ilog.Logger) (*Store, error) {
	if l == nil {
		l = ilog.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: NewGormLogger(l)})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := db.AutoMigrate(&ExchangeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &Store{db: db, log: l}, nil
}

// Record implements bridge.Recorder. Only resolved and aborted
// exchanges are persisted; transient error events are log-only.
func (s *Store) Record(evt domain.InterceptEvent) {
	switch evt.Type {
	case "resolved", "aborted":
	default:
		return
	}

	ids := make([]string, 0, len(evt.MatchedRules))
	for _, m := range evt.MatchedRules {
		ids = append(ids, string(m.RuleID))
	}
	rec := ExchangeRecord{
		Session: string(evt.Session),
		Target:  string(evt.Target),
		URL:     evt.Request.URL,
		Method:  evt.Request.Method,
		Stage:   evt.Stage,
		Result:  evt.FinalResult,
		Status:  evt.Response.StatusCode,
		RuleIDs: strings.Join(ids, ","),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		s.log.Err(err, "audit insert failed", "url", rec.URL)
	}
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(limit int) ([]ExchangeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []ExchangeRecord
	err := s.db.Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}
