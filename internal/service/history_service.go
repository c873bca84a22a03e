package service

import (
	"github.com/gallerydesk/internal/db"
	"gorm.io/gorm"
)

// HistoryService records commit workflow outcomes.
type HistoryService struct {
	db *gorm.DB
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(gdb *gorm.DB) *HistoryService {
	return &HistoryService{db: gdb}
}

// Record stores one outcome.
func (s *HistoryService) Record(record *db.SaveRecord) error {
	return s.db.Create(record).Error
}

// Recent returns the latest records, newest first.
func (s *HistoryService) Recent(limit int) ([]db.SaveRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []db.SaveRecord
	if err := s.db.Order("created_at desc").Order("id desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
