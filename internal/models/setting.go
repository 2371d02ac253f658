package models

import "time"

type Setting struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string
	Type      string `gorm:"size:16"`
	UpdatedAt time.Time
}
