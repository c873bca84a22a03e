package db

import "gorm.io/gorm"

// SaveRecord 记录一次画廊保存（提交流程）的结果。
type SaveRecord struct {
	gorm.Model
	Username   string `gorm:"index"`
	Collection string
	Branch     string
	HeadSHA    string
	CommitSHA  string
	Message    string
	Uploads    int
	Attempts   int
	Status     string `gorm:"index"` // succeeded, failed
	Step       string
	Error      string `gorm:"type:text"`
}

const (
	SaveStatusSucceeded = "succeeded"
	SaveStatusFailed    = "failed"
)
