package models

import (
	"time"
)

// AccessEntry is one allow-listed address. A nil Expiration means the grant
// never expires and is ignored by the sweeper.
type AccessEntry struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Identity   string     `gorm:"type:text;not null;index" json:"identity"`
	Address    string     `gorm:"type:varchar(45);not null;index" json:"address"`
	Expiration *time.Time `gorm:"index" json:"expiration"`
}

type AccessLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	Method    string    `gorm:"type:varchar(10);not null"`
	Path      string    `gorm:"type:text;not null"`
	Status    int       `gorm:"not null;index"`
	Duration  time.Duration
	ClientIP  string `gorm:"type:varchar(45);not null"`
	UserAgent string `gorm:"type:text"`
}

func (AccessEntry) TableName() string {
	return "access_requests"
}

func (AccessLog) TableName() string {
	return "access_logs"
}
