package models

import (
	"time"
)

type AccessLog struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp   time.Time `gorm:"index;not null"`
	Method      string    `gorm:"type:varchar(10);not null"`
	Path        string    `gorm:"type:text;not null"`
	Status      int       `gorm:"not null;index"`
	Duration    time.Duration
	ClientIP    string `gorm:"type:varchar(45);not null"`
	UserAgent   string `gorm:"type:text"`
	BytesSent   int    `gorm:"not null;default:0"`
	CacheStatus string `gorm:"type:varchar(8)"`
}

func (AccessLog) TableName() string {
	return "access_logs"
}
